package sqlstore

import (
	"context"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/events"
)

// EventStore is the append-only event archive, indexed by timestamp.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, repo: repo}, nil
}

func (s *EventStore) Append(ctx context.Context, evt events.Event) error {
	record := &eventRecord{
		ID:        evt.ID,
		Timestamp: evt.Timestamp,
		Level:     int16(evt.Level),
		Typ:       string(evt.Typ),
		Data:      evt.Data,
		Text:      evt.Text,
	}
	if evt.IP != "" {
		ip := evt.IP
		record.IP = &ip
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return core.NewInternal(err, "append event")
	}
	return nil
}

func (s *EventStore) Find(ctx context.Context, q events.Query) ([]events.Event, error) {
	var records []*eventRecord
	query := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.timestamp ASC")
	if q.From > 0 {
		query = query.Where("?TableAlias.timestamp >= ?", q.From)
	}
	if q.Until > 0 {
		query = query.Where("?TableAlias.timestamp <= ?", q.Until)
	}
	if q.Level > 0 {
		query = query.Where("?TableAlias.level >= ?", int16(q.Level))
	}
	if q.Typ != "" {
		query = query.Where("?TableAlias.typ = ?", string(q.Typ))
	}

	if err := query.Scan(ctx); err != nil {
		return nil, core.NewInternal(err, "query events")
	}

	out := make([]events.Event, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *EventStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*eventRecord)(nil)).
		Where("timestamp < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, core.NewInternal(err, "delete old events")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewInternal(err, "delete old events")
	}
	return rows, nil
}

func (r *eventRecord) toDomain() events.Event {
	if r == nil {
		return events.Event{}
	}
	evt := events.Event{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Level:     events.Level(r.Level),
		Typ:       events.Type(r.Typ),
		Data:      r.Data,
		Text:      r.Text,
	}
	if r.IP != nil {
		evt.IP = *r.IP
	}
	return evt
}

var _ events.Store = (*EventStore)(nil)
