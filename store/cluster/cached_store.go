package cluster

import (
	"context"
	"fmt"
	"net/url"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-identity/magiclink"
)

const magicLinkCacheKeyPrefix = "go-identity::magic_link::v1"

// CachedMagicLinkStore keeps a read-through cache in front of a durable
// magic link store. The cache is never the source of truth: every write
// path goes to the base store first and then drops the cached entry, so
// single-use guarantees stay with the database.
type CachedMagicLinkStore struct {
	base  magiclink.Store
	cache repositorycache.CacheService
}

func NewCachedMagicLinkStore(base magiclink.Store, cacheService repositorycache.CacheService) (*CachedMagicLinkStore, error) {
	if base == nil {
		return nil, fmt.Errorf("cluster: base magic link store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("cluster: magic link cache service is required")
	}
	return &CachedMagicLinkStore{base: base, cache: cacheService}, nil
}

// MagicLinkCacheKey returns the deterministic cache key contract for
// magic link reads: go-identity::magic_link::v1::<id> with the id
// URL-path escaped.
func MagicLinkCacheKey(id string) string {
	return magicLinkCacheKeyPrefix + "::" + url.PathEscape(id)
}

func (s *CachedMagicLinkStore) Create(ctx context.Context, link magiclink.MagicLink) error {
	if err := s.base.Create(ctx, link); err != nil {
		return err
	}
	return s.cache.Delete(ctx, MagicLinkCacheKey(link.ID))
}

func (s *CachedMagicLinkStore) Get(ctx context.Context, id string) (magiclink.MagicLink, error) {
	link, err := repositorycache.GetOrFetch(ctx, s.cache, MagicLinkCacheKey(id), func(ctx context.Context) (magiclink.MagicLink, error) {
		fetched, fetchErr := s.base.Get(ctx, id)
		if fetchErr != nil {
			return magiclink.MagicLink{}, fetchErr
		}
		return cloneMagicLink(fetched), nil
	})
	if err != nil {
		return magiclink.MagicLink{}, err
	}
	return cloneMagicLink(link), nil
}

// GetByUser always hits the base store. It answers "newest link for
// this user" which a per-id cache cannot serve without going stale on
// every create.
func (s *CachedMagicLinkStore) GetByUser(ctx context.Context, userID string) (magiclink.MagicLink, error) {
	return s.base.GetByUser(ctx, userID)
}

func (s *CachedMagicLinkStore) Save(ctx context.Context, link magiclink.MagicLink) error {
	if err := s.base.Save(ctx, link); err != nil {
		return err
	}
	return s.cache.Delete(ctx, MagicLinkCacheKey(link.ID))
}

func (s *CachedMagicLinkStore) Consume(ctx context.Context, id string) error {
	if err := s.base.Consume(ctx, id); err != nil {
		return err
	}
	return s.cache.Delete(ctx, MagicLinkCacheKey(id))
}

// DeleteEmailChangeByUser cannot enumerate every id it removed, so it
// flushes the newest link for the user and leaves older cached entries
// to the expiry checks in the validation chain plus the base store
// rejecting consumption of deleted rows.
func (s *CachedMagicLinkStore) DeleteEmailChangeByUser(ctx context.Context, userID string) error {
	newest, newestErr := s.base.GetByUser(ctx, userID)
	if err := s.base.DeleteEmailChangeByUser(ctx, userID); err != nil {
		return err
	}
	if newestErr == nil {
		return s.cache.Delete(ctx, MagicLinkCacheKey(newest.ID))
	}
	return nil
}

func (s *CachedMagicLinkStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.base.DeleteExpired(ctx, olderThan)
}

// cloneMagicLink deep-copies the one pointer field so cached copies
// never alias a caller's cookie binding.
func cloneMagicLink(link magiclink.MagicLink) magiclink.MagicLink {
	cloned := link
	if link.Cookie != nil {
		cookie := *link.Cookie
		cloned.Cookie = &cookie
	}
	return cloned
}

var _ magiclink.Store = (*CachedMagicLinkStore)(nil)
