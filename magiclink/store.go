package magiclink

import (
	"context"
	"time"
)

// Store persists magic links. Implementations must return a not-found
// identity error when a link does not exist and a conflict identity
// error when Consume loses the single-use race.
type Store interface {
	Create(ctx context.Context, link MagicLink) error
	Get(ctx context.Context, id string) (MagicLink, error)
	GetByUser(ctx context.Context, userID string) (MagicLink, error)
	// Save persists only the mutable fields of a link: cookie binding,
	// expiry, and the used flag. Identity, owner, CSRF token, and usage
	// are immutable after Create.
	Save(ctx context.Context, link MagicLink) error
	// Consume marks the link used if and only if it is not used yet.
	Consume(ctx context.Context, id string) error
	// DeleteEmailChangeByUser removes every email-change link belonging
	// to the user, regardless of target address.
	DeleteEmailChangeByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
