package device

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/events"
)

// EventSink receives security notifications raised by the poll state
// machine. events.Router satisfies it.
type EventSink interface {
	Send(evt events.Event)
}

// nopSink drops events when no router is wired.
type nopSink struct{}

func (nopSink) Send(events.Event) {}

// Manager owns the device-grant lifecycle. Pairing codes live in the
// cache backend under RegionDeviceCode; redeemed devices become durable
// entities when an EntityStore is wired.
type Manager struct {
	backend core.StateBackend
	devices EntityStore
	sink    EventSink
	cfg     core.DeviceGrantConfig
	logger  core.Logger
	now     func() time.Time
}

func NewManager(backend core.StateBackend, devices EntityStore, sink EventSink, cfg core.DeviceGrantConfig, logger core.Logger) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("device: state backend is required")
	}
	if cfg.UserCodeLength <= 0 || cfg.CodeLength <= cfg.UserCodeLength {
		return nil, fmt.Errorf("device: code length must exceed user code length")
	}
	if cfg.CodeLifetimeSeconds <= 0 {
		return nil, fmt.Errorf("device: code lifetime must be positive")
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		backend: backend,
		devices: devices,
		sink:    sink,
		cfg:     cfg,
		logger:  glog.Ensure(logger),
		now:     time.Now,
	}, nil
}

// SetClock overrides the manager clock for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// New mints a pairing code for the client. The user code is the leading
// prefix of the device code, so verifying the short code implicitly
// verifies the long one.
func (m *Manager) New(ctx context.Context, clientID string, scopes, clientSecret *string) (DeviceAuthCode, error) {
	if clientID == "" {
		return DeviceAuthCode{}, core.NewBadRequest("device grant client id is required")
	}

	deviceCode, err := core.SecureToken(m.cfg.CodeLength)
	if err != nil {
		return DeviceAuthCode{}, core.NewInternal(err, "generate device code")
	}

	now := m.now()
	code := DeviceAuthCode{
		ClientID:     clientID,
		DeviceCode:   deviceCode,
		UserCode:     deviceCode[:m.cfg.UserCodeLength],
		ExpiresAt:    now.Add(m.lifetime()).Unix(),
		LastPoll:     now.Unix(),
		Scopes:       scopes,
		ClientSecret: clientSecret,
	}
	if err := m.put(ctx, code); err != nil {
		return DeviceAuthCode{}, err
	}
	return code, nil
}

// Find loads the grant behind a user code. Expired entries are dropped
// on read and reported as missing.
func (m *Manager) Find(ctx context.Context, userCode string) (DeviceAuthCode, error) {
	if len(userCode) != m.cfg.UserCodeLength {
		return DeviceAuthCode{}, core.NewNotFound("device code not found")
	}

	var code DeviceAuthCode
	ok, err := m.backend.Get(ctx, core.RegionDeviceCode, userCode, &code)
	if err != nil {
		return DeviceAuthCode{}, core.NewInternal(err, "read device code")
	}
	if !ok {
		return DeviceAuthCode{}, core.NewNotFound("device code not found")
	}
	if code.Expired(m.now()) {
		if err := m.backend.Delete(ctx, core.RegionDeviceCode, userCode); err != nil {
			m.logger.Warn("dropping expired device code failed", "user_code", userCode, "error", err)
		}
		return DeviceAuthCode{}, core.NewNotFound("device code not found")
	}
	return code, nil
}

// FindByDeviceCode resolves the full code the polling client holds. The
// user-code prefix locates the entry; the rest must match exactly.
func (m *Manager) FindByDeviceCode(ctx context.Context, deviceCode string) (DeviceAuthCode, error) {
	if len(deviceCode) != m.cfg.CodeLength {
		return DeviceAuthCode{}, core.NewNotFound("device code not found")
	}
	code, err := m.Find(ctx, deviceCode[:m.cfg.UserCodeLength])
	if err != nil {
		return DeviceAuthCode{}, err
	}
	if code.DeviceCode != deviceCode {
		return DeviceAuthCode{}, core.NewNotFound("device code not found")
	}
	return code, nil
}

// Save persists mutated grant state under the remaining lifetime. The
// expiry itself never moves.
func (m *Manager) Save(ctx context.Context, code DeviceAuthCode) error {
	if code.Expired(m.now()) {
		return core.NewNotFound("device code not found")
	}
	return m.put(ctx, code)
}

// Delete removes the grant from the cache.
func (m *Manager) Delete(ctx context.Context, code DeviceAuthCode) error {
	if err := m.backend.Delete(ctx, core.RegionDeviceCode, code.UserCode); err != nil {
		return core.NewInternal(err, "delete device code")
	}
	return nil
}

// Verify records the user's approval of the grant identified by the
// short code they typed in.
func (m *Manager) Verify(ctx context.Context, userCode, userID string) error {
	if userID == "" {
		return core.NewBadRequest("device grant verification requires a user id")
	}
	code, err := m.Find(ctx, userCode)
	if err != nil {
		return err
	}
	if code.Verified() {
		return core.NewConflict("the device grant was already verified")
	}
	code.VerifiedBy = &userID
	return m.Save(ctx, code)
}

// Deny rejects the grant. The polling client sees expired-token from
// then on.
func (m *Manager) Deny(ctx context.Context, userCode string) error {
	code, err := m.Find(ctx, userCode)
	if err != nil {
		return err
	}
	return m.Delete(ctx, code)
}

// Poll advances the grant state machine for one client poll. Outcomes:
// the verified grant on success; authorization-pending while the user
// has not decided; slow-down when the client polls under the minimum
// interval; access-denied when throttle warnings cross the threshold,
// which also burns the grant and asks for the peer to be blacklisted;
// expired-token once the grant is gone.
func (m *Manager) Poll(ctx context.Context, deviceCode, peerIP string) (DeviceAuthCode, error) {
	code, err := m.FindByDeviceCode(ctx, deviceCode)
	if err != nil {
		if core.IsNotFound(err) {
			return DeviceAuthCode{}, newExpiredToken()
		}
		return DeviceAuthCode{}, err
	}

	now := m.now()
	if now.Unix() < code.LastPoll+int64(m.cfg.PollIntervalSeconds) {
		code.Warnings++
		if m.cfg.WarningThreshold > 0 && code.Warnings >= m.cfg.WarningThreshold {
			if err := m.Delete(ctx, code); err != nil {
				return DeviceAuthCode{}, err
			}
			m.logger.Warn("burning device grant after repeated poll abuse",
				"client_id", code.ClientID, "peer_ip", peerIP, "warnings", code.Warnings)
			m.sink.Send(events.IPBlacklistRequested(peerIP, int64(code.Warnings)))
			return DeviceAuthCode{}, newAccessDenied("the device grant was revoked after repeated poll abuse")
		}
		if err := m.Save(ctx, code); err != nil {
			return DeviceAuthCode{}, err
		}
		return DeviceAuthCode{}, newSlowDown()
	}

	code.LastPoll = now.Unix()
	if err := m.Save(ctx, code); err != nil {
		return DeviceAuthCode{}, err
	}

	if !code.Verified() {
		return DeviceAuthCode{}, newAuthorizationPending()
	}
	return code, nil
}

// Redeem exchanges a verified grant for a durable device record exactly
// once. The cache entry is deleted first, so a concurrent second redeem
// finds nothing.
func (m *Manager) Redeem(ctx context.Context, deviceCode, peerIP, name string, accessExp int64, refreshExp *int64) (Entity, error) {
	code, err := m.FindByDeviceCode(ctx, deviceCode)
	if err != nil {
		if core.IsNotFound(err) {
			return Entity{}, newExpiredToken()
		}
		return Entity{}, err
	}
	if !code.Verified() {
		return Entity{}, newAuthorizationPending()
	}

	if err := m.Delete(ctx, code); err != nil {
		return Entity{}, err
	}

	entity := Entity{
		ID:         uuid.NewString(),
		ClientID:   code.ClientID,
		UserID:     code.VerifiedBy,
		CreatedAt:  m.now().Unix(),
		AccessExp:  accessExp,
		RefreshExp: refreshExp,
		PeerIP:     peerIP,
		Name:       name,
	}
	if entity.Name == "" {
		entity.Name = entity.ID
	}
	if m.devices != nil {
		if err := m.devices.Insert(ctx, entity); err != nil {
			return Entity{}, err
		}
	}
	return entity, nil
}

// RegisteredDevices lists the user's durable devices.
func (m *Manager) RegisteredDevices(ctx context.Context, userID string) ([]Entity, error) {
	if m.devices == nil {
		return nil, core.NewInternal(nil, "no durable device store configured")
	}
	return m.devices.FindForUser(ctx, userID)
}

// RenameDevice updates a device's display name, scoped to its owner.
func (m *Manager) RenameDevice(ctx context.Context, id, userID, name string) error {
	if m.devices == nil {
		return core.NewInternal(nil, "no durable device store configured")
	}
	if name == "" {
		return core.NewBadRequest("device name is required")
	}
	return m.devices.UpdateName(ctx, id, userID, name)
}

// RevokeDeviceRefresh stops the device from renewing its session.
func (m *Manager) RevokeDeviceRefresh(ctx context.Context, id, userID string) error {
	if m.devices == nil {
		return core.NewInternal(nil, "no durable device store configured")
	}
	return m.devices.RevokeRefresh(ctx, id, userID)
}

// DeleteExpiredDevices drops fully expired durable devices and reports
// how many went away. The scheduler calls this periodically.
func (m *Manager) DeleteExpiredDevices(ctx context.Context) (int64, error) {
	if m.devices == nil {
		return 0, nil
	}
	return m.devices.DeleteExpired(ctx, m.now().Unix())
}

func (m *Manager) lifetime() time.Duration {
	return time.Duration(m.cfg.CodeLifetimeSeconds) * time.Second
}

func (m *Manager) put(ctx context.Context, code DeviceAuthCode) error {
	ttl := time.Until(time.Unix(code.ExpiresAt, 0)) +
		time.Duration(m.cfg.CacheTTLExtraSeconds)*time.Second
	if err := m.backend.Put(ctx, core.RegionDeviceCode, code.UserCode, code, ttl); err != nil {
		return core.NewInternal(err, "store device code")
	}
	return nil
}
