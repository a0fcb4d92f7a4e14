package magiclink

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-identity/core"
)

// invalidationBackdate pushes the expiry of an invalidated link slightly
// into the past so that concurrent readers with marginal clock skew still
// see it as expired.
const invalidationBackdate = 10 * time.Second

// Manager owns the lifecycle of magic links: creation, lookup, the
// validation chain, single-use consumption, and invalidation.
type Manager struct {
	store  Store
	cfg    core.MagicLinkConfig
	logger core.Logger
	now    func() time.Time
}

// NewManager wires a manager over the given store. A nil logger falls
// back to a no-op logger.
func NewManager(store Store, cfg core.MagicLinkConfig, logger core.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("magiclink: store is required")
	}
	if cfg.DefaultLifetimeMinutes <= 0 {
		return nil, fmt.Errorf("magiclink: default lifetime must be positive")
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: glog.Ensure(logger),
		now:    time.Now,
	}, nil
}

// SetClock overrides the manager clock. Tests use it to cross expiry
// boundaries without sleeping.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Create mints a fresh link for the user. A non-positive lifetime falls
// back to the configured default.
func (m *Manager) Create(ctx context.Context, userID string, lifetime time.Duration, usage Usage) (MagicLink, error) {
	if userID == "" {
		return MagicLink{}, core.NewBadRequest("magic link user id is required")
	}
	if lifetime <= 0 {
		lifetime = time.Duration(m.cfg.DefaultLifetimeMinutes) * time.Minute
	}

	id, err := core.SecureToken(IDLength)
	if err != nil {
		return MagicLink{}, core.NewInternal(err, "generate magic link id")
	}
	csrf, err := core.SecureToken(CSRFTokenLength)
	if err != nil {
		return MagicLink{}, core.NewInternal(err, "generate magic link csrf token")
	}

	link := MagicLink{
		ID:        id,
		UserID:    userID,
		CSRFToken: csrf,
		ExpiresAt: m.now().Add(lifetime).Unix(),
		UsageRaw:  usage.String(),
	}
	if err := m.store.Create(ctx, link); err != nil {
		return MagicLink{}, err
	}
	return link, nil
}

// Find loads a link by its identifier.
func (m *Manager) Find(ctx context.Context, id string) (MagicLink, error) {
	if id == "" {
		return MagicLink{}, core.NewBadRequest("magic link id is required")
	}
	return m.store.Get(ctx, id)
}

// FindByUser loads the most recent link belonging to the user.
func (m *Manager) FindByUser(ctx context.Context, userID string) (MagicLink, error) {
	if userID == "" {
		return MagicLink{}, core.NewBadRequest("magic link user id is required")
	}
	return m.store.GetByUser(ctx, userID)
}

// Save persists the mutable fields of the link.
func (m *Manager) Save(ctx context.Context, link MagicLink) error {
	return m.store.Save(ctx, link)
}

// BindToSession pins the link to the browser session that first opened
// it. The first write wins; later calls with a binding already in place
// are no-ops so replays cannot rebind the link.
func (m *Manager) BindToSession(ctx context.Context, link *MagicLink, cookieValue string) error {
	if link.Cookie != nil {
		return nil
	}
	link.Cookie = &cookieValue
	return m.store.Save(ctx, *link)
}

// Validate runs the full check chain against the presented request:
// cookie binding, CSRF token when requested, ownership, expiry, and the
// single-use flag. The first failing check wins and later checks are not
// evaluated.
func (m *Manager) Validate(link *MagicLink, userID string, req RequestContext, withCSRF bool) error {
	if link.Cookie != nil {
		cookie, ok := req.BindingCookie()
		bound := ok && link.BoundTo(cookie)
		if !bound {
			if m.cfg.EnforceCookieBinding {
				return core.NewForbidden("the magic link is bound to another browser session")
			}
			m.logger.Warn("accepting magic link from an unbound session, cookie binding is disabled",
				"link_id", link.ID, "peer_ip", req.PeerIP())
		}
	}

	if withCSRF {
		if req.CSRFHeader() != link.CSRFToken {
			m.logger.Warn("magic link csrf token mismatch", "link_id", link.ID, "peer_ip", req.PeerIP())
			return core.NewUnauthorized("invalid csrf token for magic link")
		}
	}

	if link.UserID != userID {
		return core.NewForbidden("the magic link belongs to another user")
	}
	if link.Expired(m.now()) {
		return core.NewBadRequest("the magic link has expired")
	}
	if link.Used {
		return core.NewBadRequest("the magic link was already used")
	}
	return nil
}

// Consume marks the link used. Exactly one concurrent caller succeeds;
// the rest get a conflict error from the store.
func (m *Manager) Consume(ctx context.Context, link *MagicLink) error {
	if err := m.store.Consume(ctx, link.ID); err != nil {
		return err
	}
	link.Used = true
	return nil
}

// Invalidate expires the link immediately by backdating its expiry and
// persisting it.
func (m *Manager) Invalidate(ctx context.Context, link *MagicLink) error {
	link.ExpiresAt = m.now().Add(-invalidationBackdate).Unix()
	return m.store.Save(ctx, *link)
}

// InvalidateAllEmailChange drops every pending email-change link for the
// user. A newer email-change request supersedes all earlier ones.
func (m *Manager) InvalidateAllEmailChange(ctx context.Context, userID string) error {
	if userID == "" {
		return core.NewBadRequest("magic link user id is required")
	}
	return m.store.DeleteEmailChangeByUser(ctx, userID)
}

// DeleteExpired removes links whose expiry predates olderThan and
// returns how many were dropped. The scheduler calls this periodically.
func (m *Manager) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	return m.store.DeleteExpired(ctx, olderThan)
}
