package events

import "context"

// Query filters a stored-event lookup. Zero values mean "no bound":
// From/Until bound the timestamp in milliseconds, Level is the minimum
// level, Typ narrows to a single kind.
type Query struct {
	From  int64
	Until int64
	Level Level
	Typ   Type
}

// Store persists events, append-only. Implementations return events in
// ascending timestamp order.
type Store interface {
	Append(ctx context.Context, evt Event) error
	Find(ctx context.Context, q Query) ([]Event, error)
	// DeleteOlderThan drops events whose timestamp predates the cutoff
	// and reports how many rows went away.
	DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error)
}
