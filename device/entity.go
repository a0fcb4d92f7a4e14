package device

import "context"

// Entity is the durable record minted when a device grant is redeemed.
// Unlike DeviceAuthCode it survives restarts: users list, rename, and
// revoke these through the account API.
type Entity struct {
	ID         string
	ClientID   string
	UserID     *string
	CreatedAt  int64
	AccessExp  int64
	RefreshExp *int64
	PeerIP     string
	Name       string
}

// EntityStore persists redeemed devices. Lookups scoped by userID must
// not return or touch other users' rows.
type EntityStore interface {
	Insert(ctx context.Context, entity Entity) error
	Get(ctx context.Context, id string) (Entity, error)
	FindForUser(ctx context.Context, userID string) ([]Entity, error)
	UpdateName(ctx context.Context, id, userID, name string) error
	// RevokeRefresh caps the refresh expiry at the access expiry so the
	// device cannot renew its session past the current one.
	RevokeRefresh(ctx context.Context, id, userID string) error
	Delete(ctx context.Context, id, userID string) error
	// DeleteExpired drops devices whose access and refresh windows have
	// both passed the given instant.
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}
