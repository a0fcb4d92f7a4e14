package magiclink

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-identity/core"
)

type memStore struct {
	mu    sync.Mutex
	links map[string]MagicLink
}

func newMemStore() *memStore {
	return &memStore{links: map[string]MagicLink{}}
}

func (s *memStore) Create(_ context.Context, link MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = link
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return MagicLink{}, core.NewNotFound("magic link not found")
	}
	return link, nil
}

func (s *memStore) GetByUser(_ context.Context, userID string) (MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest MagicLink
	found := false
	for _, link := range s.links {
		if link.UserID != userID {
			continue
		}
		if !found || link.ExpiresAt > latest.ExpiresAt {
			latest = link
			found = true
		}
	}
	if !found {
		return MagicLink{}, core.NewNotFound("magic link not found")
	}
	return latest, nil
}

func (s *memStore) Save(_ context.Context, link MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.links[link.ID]
	if !ok {
		return core.NewNotFound("magic link not found")
	}
	stored.Cookie = link.Cookie
	stored.ExpiresAt = link.ExpiresAt
	stored.Used = link.Used
	s.links[link.ID] = stored
	return nil
}

func (s *memStore) Consume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.links[id]
	if !ok {
		return core.NewNotFound("magic link not found")
	}
	if stored.Used {
		return core.NewConflict("magic link already consumed")
	}
	stored.Used = true
	s.links[id] = stored
	return nil
}

func (s *memStore) DeleteEmailChangeByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, link := range s.links {
		if link.UserID == userID && strings.HasPrefix(link.UsageRaw, string(UsageEmailChange)) {
			delete(s.links, id)
		}
	}
	return nil
}

func (s *memStore) DeleteExpired(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int64
	for id, link := range s.links {
		if link.ExpiresAt < olderThan.Unix() {
			delete(s.links, id)
			dropped++
		}
	}
	return dropped, nil
}

type fakeRequest struct {
	cookie    string
	hasCookie bool
	csrf      string
	ip        string
}

func (r fakeRequest) BindingCookie() (string, bool) { return r.cookie, r.hasCookie }
func (r fakeRequest) CSRFHeader() string            { return r.csrf }
func (r fakeRequest) PeerIP() string                { return r.ip }

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	mgr, err := NewManager(store, core.MagicLinkConfig{
		EnforceCookieBinding:   true,
		DefaultLifetimeMinutes: 30,
	}, nil)
	if err != nil {
		t.Fatalf("manager construction failed: %v", err)
	}
	return mgr
}

func TestCreateMintsDistinctTokens(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)

	link, err := mgr.Create(context.Background(), "user-1", 0, PasswordReset(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(link.ID) != IDLength {
		t.Fatalf("expected id of length %d, got %d", IDLength, len(link.ID))
	}
	if len(link.CSRFToken) != CSRFTokenLength {
		t.Fatalf("expected csrf token of length %d, got %d", CSRFTokenLength, len(link.CSRFToken))
	}
	if link.Cookie != nil {
		t.Fatal("fresh link must not carry a session binding")
	}
	if link.ExpiresAt <= time.Now().Unix() {
		t.Fatal("fresh link already expired")
	}
}

func TestValidateChain(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	link, err := mgr.Create(ctx, "user-1", time.Hour, NewUser(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	good := fakeRequest{csrf: link.CSRFToken, ip: "192.0.2.7"}

	if err := mgr.Validate(&link, "user-1", good, true); err != nil {
		t.Fatalf("expected the pristine link to validate, got %v", err)
	}

	if err := mgr.Validate(&link, "user-1", fakeRequest{csrf: "forged"}, true); !core.HasCategory(err, goerrors.CategoryAuth) {
		t.Fatalf("expected an unauthorized error on csrf mismatch, got %v", err)
	}

	if err := mgr.Validate(&link, "somebody-else", good, true); !core.HasCategory(err, goerrors.CategoryAuthz) {
		t.Fatalf("expected a forbidden error on foreign user, got %v", err)
	}

	if err := mgr.BindToSession(ctx, &link, "session-abc"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	if err := mgr.Validate(&link, "user-1", fakeRequest{cookie: "prefix-session-abc", hasCookie: true, csrf: link.CSRFToken}, true); err != nil {
		t.Fatalf("expected suffix-matched cookie to validate, got %v", err)
	}

	if err := mgr.Validate(&link, "user-1", fakeRequest{cookie: "another-session", hasCookie: true, csrf: link.CSRFToken}, true); !core.HasCategory(err, goerrors.CategoryAuthz) {
		t.Fatalf("expected a forbidden error on foreign session, got %v", err)
	}

	// The binding check runs before the CSRF check, so a foreign session
	// with a forged token is reported as forbidden, not unauthorized.
	if err := mgr.Validate(&link, "user-1", fakeRequest{cookie: "another-session", hasCookie: true, csrf: "forged"}, true); !core.HasCategory(err, goerrors.CategoryAuthz) {
		t.Fatalf("expected the binding failure to win, got %v", err)
	}
}

func TestValidateCookieBindingEscapeHatch(t *testing.T) {
	store := newMemStore()
	mgr, err := NewManager(store, core.MagicLinkConfig{
		EnforceCookieBinding:   false,
		DefaultLifetimeMinutes: 30,
	}, nil)
	if err != nil {
		t.Fatalf("manager construction failed: %v", err)
	}
	ctx := context.Background()

	link, err := mgr.Create(ctx, "user-1", time.Hour, PasswordReset(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mgr.BindToSession(ctx, &link, "session-abc"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	err = mgr.Validate(&link, "user-1", fakeRequest{cookie: "foreign", hasCookie: true, csrf: link.CSRFToken}, true)
	if err != nil {
		t.Fatalf("expected the mismatch to be downgraded to a warning, got %v", err)
	}
}

func TestValidateExpiryAndReuse(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	link, err := mgr.Create(ctx, "user-1", time.Hour, PasswordReset(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	req := fakeRequest{csrf: link.CSRFToken}

	mgr.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	if err := mgr.Validate(&link, "user-1", req, true); !core.HasCategory(err, goerrors.CategoryBadInput) {
		t.Fatalf("expected an expiry rejection, got %v", err)
	}
	mgr.SetClock(time.Now)

	if err := mgr.Consume(ctx, &link); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !link.Used {
		t.Fatal("consume must flip the in-memory used flag")
	}
	if err := mgr.Validate(&link, "user-1", req, true); !core.HasCategory(err, goerrors.CategoryBadInput) {
		t.Fatalf("expected a reuse rejection, got %v", err)
	}
	if err := mgr.Consume(ctx, &link); !core.IsConflict(err) {
		t.Fatalf("expected a conflict on double consume, got %v", err)
	}
}

func TestInvalidateBackdatesExpiry(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	link, err := mgr.Create(ctx, "user-1", time.Hour, PasswordReset(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mgr.Invalidate(ctx, &link); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if !link.Expired(time.Now()) {
		t.Fatal("invalidated link must read as expired immediately")
	}

	stored, err := mgr.Find(ctx, link.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.ExpiresAt != link.ExpiresAt {
		t.Fatal("backdated expiry was not persisted")
	}
}

func TestBindToSessionFirstWriteWins(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	link, err := mgr.Create(ctx, "user-1", time.Hour, NewUser(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mgr.BindToSession(ctx, &link, "first"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := mgr.BindToSession(ctx, &link, "second"); err != nil {
		t.Fatalf("rebind attempt errored: %v", err)
	}
	if *link.Cookie != "first" {
		t.Fatalf("binding was overwritten: %q", *link.Cookie)
	}
}

func TestInvalidateAllEmailChange(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, "user-1", time.Hour, EmailChange("a@example.com")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := mgr.Create(ctx, "user-1", time.Hour, EmailChange("b@example.com")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	keep, err := mgr.Create(ctx, "user-1", time.Hour, PasswordReset(""))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := mgr.InvalidateAllEmailChange(ctx, "user-1"); err != nil {
		t.Fatalf("invalidate all failed: %v", err)
	}

	if _, err := mgr.Find(ctx, keep.ID); err != nil {
		t.Fatalf("password reset link must survive, got %v", err)
	}
	if link, err := mgr.FindByUser(ctx, "user-1"); err != nil {
		t.Fatalf("find by user failed: %v", err)
	} else if link.UsageRaw != keep.UsageRaw {
		t.Fatalf("expected only the password reset link to remain, got %q", link.UsageRaw)
	}
}
