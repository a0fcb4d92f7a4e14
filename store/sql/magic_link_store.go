package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/magiclink"
)

// MagicLinkStore is the durable home of magic links. Identity, owner,
// CSRF token, and usage are write-once: Save only touches the mutable
// columns and Consume is a conditional update so exactly one caller
// wins the single-use race.
type MagicLinkStore struct {
	db   *bun.DB
	repo repository.Repository[*magicLinkRecord]
}

func NewMagicLinkStore(db *bun.DB) (*MagicLinkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*magicLinkRecord](db, magicLinkHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid magic link repository wiring: %w", err)
		}
	}
	return &MagicLinkStore{db: db, repo: repo}, nil
}

func (s *MagicLinkStore) Create(ctx context.Context, link magiclink.MagicLink) error {
	record := &magicLinkRecord{
		ID:        link.ID,
		UserID:    link.UserID,
		CSRFToken: link.CSRFToken,
		Cookie:    link.Cookie,
		ExpiresAt: link.ExpiresAt,
		Used:      link.Used,
		Usage:     link.UsageRaw,
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return core.NewConflict("magic link id already exists")
		}
		return core.NewInternal(err, "create magic link")
	}
	return nil
}

func (s *MagicLinkStore) Get(ctx context.Context, id string) (magiclink.MagicLink, error) {
	record := &magicLinkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return magiclink.MagicLink{}, core.NewNotFound("magic link not found")
		}
		return magiclink.MagicLink{}, core.NewInternal(err, "read magic link")
	}
	return record.toDomain(), nil
}

func (s *MagicLinkStore) GetByUser(ctx context.Context, userID string) (magiclink.MagicLink, error) {
	record := &magicLinkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.expires_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return magiclink.MagicLink{}, core.NewNotFound("magic link not found")
		}
		return magiclink.MagicLink{}, core.NewInternal(err, "read magic link")
	}
	return record.toDomain(), nil
}

func (s *MagicLinkStore) Save(ctx context.Context, link magiclink.MagicLink) error {
	res, err := s.db.NewUpdate().
		Model((*magicLinkRecord)(nil)).
		Set("cookie = ?", link.Cookie).
		Set("expires_at = ?", link.ExpiresAt).
		Set("used = ?", link.Used).
		Where("id = ?", link.ID).
		Exec(ctx)
	if err != nil {
		return core.NewInternal(err, "save magic link")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return core.NewInternal(err, "save magic link")
	}
	if rows == 0 {
		return core.NewNotFound("magic link not found")
	}
	return nil
}

func (s *MagicLinkStore) Consume(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().
		Model((*magicLinkRecord)(nil)).
		Set("used = ?", true).
		Where("id = ?", id).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return core.NewInternal(err, "consume magic link")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return core.NewInternal(err, "consume magic link")
	}
	if rows == 1 {
		return nil
	}

	// Zero rows means either a lost race or a bogus id; tell them apart.
	exists, err := s.db.NewSelect().
		Model((*magicLinkRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return core.NewInternal(err, "consume magic link")
	}
	if !exists {
		return core.NewNotFound("magic link not found")
	}
	return core.NewConflict("magic link already consumed")
}

func (s *MagicLinkStore) DeleteEmailChangeByUser(ctx context.Context, userID string) error {
	_, err := s.db.NewDelete().
		Model((*magicLinkRecord)(nil)).
		Where("user_id = ?", userID).
		// Usage encodes as "<kind>" or "<kind>$<value>"; matching kinds
		// that merely share the prefix would delete the wrong links.
		Where("(usage = ? OR usage LIKE ?)",
			string(magiclink.UsageEmailChange),
			string(magiclink.UsageEmailChange)+"$%").
		Exec(ctx)
	if err != nil {
		return core.NewInternal(err, "delete email change links")
	}
	return nil
}

func (s *MagicLinkStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*magicLinkRecord)(nil)).
		Where("expires_at < ?", olderThan.Unix()).
		Exec(ctx)
	if err != nil {
		return 0, core.NewInternal(err, "delete expired magic links")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewInternal(err, "delete expired magic links")
	}
	return rows, nil
}

func (r *magicLinkRecord) toDomain() magiclink.MagicLink {
	if r == nil {
		return magiclink.MagicLink{}
	}
	link := magiclink.MagicLink{
		ID:        r.ID,
		UserID:    r.UserID,
		CSRFToken: r.CSRFToken,
		ExpiresAt: r.ExpiresAt,
		Used:      r.Used,
		UsageRaw:  r.Usage,
	}
	if r.Cookie != nil {
		value := *r.Cookie
		link.Cookie = &value
	}
	return link
}

var _ magiclink.Store = (*MagicLinkStore)(nil)
