package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/core"
)

// Backend is the standalone StateBackend: key-value regions live in the
// identity_kv_entries table and Execute runs against the same database.
// A standalone process is always its own leader.
type Backend struct {
	db  *bun.DB
	now func() time.Time
}

func NewBackend(db *bun.DB) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &Backend{db: db, now: time.Now}, nil
}

// SetClock overrides the backend clock for expiry tests.
func (b *Backend) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *Backend) Put(ctx context.Context, region core.Region, key string, value any, ttl time.Duration) error {
	if region == "" || key == "" {
		return fmt.Errorf("sqlstore: kv region and key are required")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlstore: encode kv value %s/%s: %w", region, key, err)
	}

	record := &kvEntryRecord{
		Region: string(region),
		Key:    key,
		Value:  payload,
	}
	if ttl > 0 {
		expiresAt := b.now().Add(ttl).Unix()
		record.ExpiresAt = &expiresAt
	}

	_, err = b.db.NewInsert().
		Model(record).
		On("CONFLICT (region, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

func (b *Backend) Get(ctx context.Context, region core.Region, key string, dest any) (bool, error) {
	record := &kvEntryRecord{}
	err := b.db.NewSelect().
		Model(record).
		Where("?TableAlias.region = ?", string(region)).
		Where("?TableAlias.key = ?", key).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	if record.ExpiresAt != nil && *record.ExpiresAt < b.now().Unix() {
		// Expired rows die on read; the next write recreates them.
		if _, delErr := b.db.NewDelete().
			Model((*kvEntryRecord)(nil)).
			Where("region = ?", string(region)).
			Where("key = ?", key).
			Exec(ctx); delErr != nil {
			return false, delErr
		}
		return false, nil
	}

	if dest != nil {
		if err := json.Unmarshal(record.Value, dest); err != nil {
			return false, fmt.Errorf("sqlstore: decode kv value %s/%s: %w", region, key, err)
		}
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, region core.Region, key string) error {
	_, err := b.db.NewDelete().
		Model((*kvEntryRecord)(nil)).
		Where("region = ?", string(region)).
		Where("key = ?", key).
		Exec(ctx)
	return err
}

func (b *Backend) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsLeader always reports true: with one relational database there is
// exactly one node.
func (b *Backend) IsLeader(context.Context) bool {
	return true
}

var (
	_ core.StateBackend = (*Backend)(nil)
	_ core.LeaderOracle = (*Backend)(nil)
)
