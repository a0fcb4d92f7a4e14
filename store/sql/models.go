package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type kvEntryRecord struct {
	bun.BaseModel `bun:"table:identity_kv_entries,alias:kv"`

	Region    string `bun:"region,pk"`
	Key       string `bun:"key,pk"`
	Value     []byte `bun:"value,notnull"`
	ExpiresAt *int64 `bun:"expires_at"`
}

type magicLinkRecord struct {
	bun.BaseModel `bun:"table:identity_magic_links,alias:ml"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	CSRFToken string    `bun:"csrf_token,notnull"`
	Cookie    *string   `bun:"cookie"`
	ExpiresAt int64     `bun:"expires_at,notnull"`
	Used      bool      `bun:"used,notnull"`
	Usage     string    `bun:"usage,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type deviceRecord struct {
	bun.BaseModel `bun:"table:identity_devices,alias:dev"`

	ID         string  `bun:"id,pk"`
	ClientID   string  `bun:"client_id,notnull"`
	UserID     *string `bun:"user_id"`
	CreatedAt  int64   `bun:"created_at,notnull"`
	AccessExp  int64   `bun:"access_exp,notnull"`
	RefreshExp *int64  `bun:"refresh_exp"`
	PeerIP     string  `bun:"peer_ip,notnull"`
	Name       string  `bun:"name,notnull"`
}

type eventRecord struct {
	bun.BaseModel `bun:"table:identity_events,alias:ev"`

	ID        string  `bun:"id,pk"`
	Timestamp int64   `bun:"timestamp,notnull"`
	Level     int16   `bun:"level,notnull"`
	Typ       string  `bun:"typ,notnull"`
	IP        *string `bun:"ip"`
	Data      *int64  `bun:"data"`
	Text      *string `bun:"text"`
}
