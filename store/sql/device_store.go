package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/device"
)

// DeviceStore persists redeemed devices. Every owner-scoped statement
// carries the user id in the WHERE clause, so one user can never touch
// another's rows.
type DeviceStore struct {
	db   *bun.DB
	repo repository.Repository[*deviceRecord]
}

func NewDeviceStore(db *bun.DB) (*DeviceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deviceRecord](db, deviceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid device repository wiring: %w", err)
		}
	}
	return &DeviceStore{db: db, repo: repo}, nil
}

func (s *DeviceStore) Insert(ctx context.Context, entity device.Entity) error {
	record := &deviceRecord{
		ID:         entity.ID,
		ClientID:   entity.ClientID,
		UserID:     entity.UserID,
		CreatedAt:  entity.CreatedAt,
		AccessExp:  entity.AccessExp,
		RefreshExp: entity.RefreshExp,
		PeerIP:     entity.PeerIP,
		Name:       entity.Name,
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return core.NewConflict("device id already exists")
		}
		return core.NewInternal(err, "create device")
	}
	return nil
}

func (s *DeviceStore) Get(ctx context.Context, id string) (device.Entity, error) {
	record := &deviceRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return device.Entity{}, core.NewNotFound("device not found")
		}
		return device.Entity{}, core.NewInternal(err, "read device")
	}
	return record.toDomain(), nil
}

func (s *DeviceStore) FindForUser(ctx context.Context, userID string) ([]device.Entity, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, core.NewInternal(err, "list devices")
	}
	entities := make([]device.Entity, 0, len(records))
	for _, record := range records {
		entities = append(entities, record.toDomain())
	}
	return entities, nil
}

func (s *DeviceStore) UpdateName(ctx context.Context, id, userID, name string) error {
	res, err := s.db.NewUpdate().
		Model((*deviceRecord)(nil)).
		Set("name = ?", name).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return core.NewInternal(err, "rename device")
	}
	return requireRow(res, "device not found")
}

func (s *DeviceStore) RevokeRefresh(ctx context.Context, id, userID string) error {
	res, err := s.db.NewUpdate().
		Model((*deviceRecord)(nil)).
		Set("refresh_exp = access_exp").
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return core.NewInternal(err, "revoke device refresh")
	}
	return requireRow(res, "device not found")
}

func (s *DeviceStore) Delete(ctx context.Context, id, userID string) error {
	res, err := s.db.NewDelete().
		Model((*deviceRecord)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return core.NewInternal(err, "delete device")
	}
	return requireRow(res, "device not found")
}

func (s *DeviceStore) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*deviceRecord)(nil)).
		Where("access_exp < ?", now).
		Where("refresh_exp IS NULL OR refresh_exp < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, core.NewInternal(err, "delete expired devices")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewInternal(err, "delete expired devices")
	}
	return rows, nil
}

func (r *deviceRecord) toDomain() device.Entity {
	if r == nil {
		return device.Entity{}
	}
	entity := device.Entity{
		ID:        r.ID,
		ClientID:  r.ClientID,
		CreatedAt: r.CreatedAt,
		AccessExp: r.AccessExp,
		PeerIP:    r.PeerIP,
		Name:      r.Name,
	}
	if r.UserID != nil {
		value := *r.UserID
		entity.UserID = &value
	}
	if r.RefreshExp != nil {
		value := *r.RefreshExp
		entity.RefreshExp = &value
	}
	return entity
}

func requireRow(res sql.Result, missing string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return core.NewInternal(err, missing)
	}
	if rows == 0 {
		return core.NewNotFound(missing)
	}
	return nil
}

var _ device.EntityStore = (*DeviceStore)(nil)
