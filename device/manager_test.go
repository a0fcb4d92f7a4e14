package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/events"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Send(evt events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

type memEntityStore struct {
	mu       sync.Mutex
	entities map[string]Entity
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{entities: map[string]Entity{}}
}

func (s *memEntityStore) Insert(_ context.Context, entity Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.ID] = entity
	return nil
}

func (s *memEntityStore) Get(_ context.Context, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return Entity{}, core.NewNotFound("device not found")
	}
	return entity, nil
}

func (s *memEntityStore) FindForUser(_ context.Context, userID string) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entity
	for _, entity := range s.entities {
		if entity.UserID != nil && *entity.UserID == userID {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (s *memEntityStore) UpdateName(_ context.Context, id, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok || entity.UserID == nil || *entity.UserID != userID {
		return core.NewNotFound("device not found")
	}
	entity.Name = name
	s.entities[id] = entity
	return nil
}

func (s *memEntityStore) RevokeRefresh(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok || entity.UserID == nil || *entity.UserID != userID {
		return core.NewNotFound("device not found")
	}
	entity.RefreshExp = &entity.AccessExp
	s.entities[id] = entity
	return nil
}

func (s *memEntityStore) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok || entity.UserID == nil || *entity.UserID != userID {
		return core.NewNotFound("device not found")
	}
	delete(s.entities, id)
	return nil
}

func (s *memEntityStore) DeleteExpired(_ context.Context, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int64
	for id, entity := range s.entities {
		if entity.AccessExp >= now {
			continue
		}
		if entity.RefreshExp != nil && *entity.RefreshExp >= now {
			continue
		}
		delete(s.entities, id)
		dropped++
	}
	return dropped, nil
}

func testGrantConfig() core.DeviceGrantConfig {
	return core.DeviceGrantConfig{
		CodeLength:           64,
		UserCodeLength:       8,
		CodeLifetimeSeconds:  300,
		PollIntervalSeconds:  5,
		WarningThreshold:     3,
		CacheTTLExtraSeconds: 10,
	}
}

func newTestManager(t *testing.T) (*Manager, *recordingSink, *memEntityStore) {
	t.Helper()
	sink := &recordingSink{}
	entities := newMemEntityStore()
	mgr, err := NewManager(core.NewMemoryBackend(), entities, sink, testGrantConfig(), nil)
	if err != nil {
		t.Fatalf("manager construction failed: %v", err)
	}
	return mgr, sink, entities
}

func TestUserCodeIsDeviceCodePrefix(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if len(code.DeviceCode) != 64 {
		t.Fatalf("expected a 64 char device code, got %d", len(code.DeviceCode))
	}
	if code.UserCode != code.DeviceCode[:8] {
		t.Fatalf("user code %q is not the prefix of %q", code.UserCode, code.DeviceCode)
	}

	byUser, err := mgr.Find(ctx, code.UserCode)
	if err != nil {
		t.Fatalf("find by user code failed: %v", err)
	}
	byDevice, err := mgr.FindByDeviceCode(ctx, code.DeviceCode)
	if err != nil {
		t.Fatalf("find by device code failed: %v", err)
	}
	if byUser.DeviceCode != byDevice.DeviceCode {
		t.Fatal("the two lookups must resolve the same grant")
	}
}

func TestFindByDeviceCodeRejectsForgedSuffix(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	suffix := "A"
	if code.DeviceCode[63] == 'A' {
		suffix = "B"
	}
	forged := code.DeviceCode[:63] + suffix
	if _, err := mgr.FindByDeviceCode(ctx, forged); !core.IsNotFound(err) {
		t.Fatalf("a forged suffix with a valid prefix must stay invisible, got %v", err)
	}
}

func TestFindDropsExpiredGrant(t *testing.T) {
	backend := core.NewMemoryBackend()
	mgr, err := NewManager(backend, nil, nil, testGrantConfig(), nil)
	if err != nil {
		t.Fatalf("manager construction failed: %v", err)
	}
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	mgr.SetClock(func() time.Time { return time.Now().Add(10 * time.Minute) })
	if _, err := mgr.Find(ctx, code.UserCode); !core.IsNotFound(err) {
		t.Fatalf("expected the expired grant to read as missing, got %v", err)
	}

	// The read must have deleted the stale entry, not just skipped it.
	var stale DeviceAuthCode
	ok, err := backend.Get(ctx, core.RegionDeviceCode, code.UserCode, &stale)
	if err != nil {
		t.Fatalf("backend read failed: %v", err)
	}
	if ok {
		t.Fatal("expired grant still present in the backend")
	}
}

func TestVerifyAndDeny(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := mgr.Verify(ctx, code.UserCode, "user-1"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	stored, err := mgr.Find(ctx, code.UserCode)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if !stored.Verified() || *stored.VerifiedBy != "user-1" {
		t.Fatalf("verification not recorded: %+v", stored)
	}
	if err := mgr.Verify(ctx, code.UserCode, "user-2"); !core.IsConflict(err) {
		t.Fatalf("expected a conflict on double verification, got %v", err)
	}

	denied, err := mgr.New(ctx, "client-2", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := mgr.Deny(ctx, denied.UserCode); err != nil {
		t.Fatalf("deny failed: %v", err)
	}
	if _, err := mgr.Poll(ctx, denied.DeviceCode, "192.0.2.9"); !IsExpiredToken(err) {
		t.Fatalf("polling a denied grant must report expired token, got %v", err)
	}
}

func TestPollStateMachine(t *testing.T) {
	mgr, sink, _ := newTestManager(t)
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	base := time.Now()
	clock := base
	mgr.SetClock(func() time.Time { return clock })

	// Honest poll after the interval: pending, no warning.
	clock = base.Add(6 * time.Second)
	if _, err := mgr.Poll(ctx, code.DeviceCode, "192.0.2.9"); !IsAuthorizationPending(err) {
		t.Fatalf("expected authorization pending, got %v", err)
	}

	// Two eager polls: slow down, warnings accumulate.
	for i := 0; i < 2; i++ {
		clock = clock.Add(time.Second)
		if _, err := mgr.Poll(ctx, code.DeviceCode, "192.0.2.9"); !IsSlowDown(err) {
			t.Fatalf("expected slow down on eager poll %d, got %v", i, err)
		}
	}

	// Third eager poll crosses the threshold: the grant burns and the
	// peer is reported for blacklisting.
	clock = clock.Add(time.Second)
	if _, err := mgr.Poll(ctx, code.DeviceCode, "192.0.2.9"); !IsAccessDenied(err) {
		t.Fatalf("expected access denied at the warning threshold, got %v", err)
	}

	raised := sink.all()
	if len(raised) != 1 {
		t.Fatalf("expected exactly one blacklist request, got %d", len(raised))
	}
	if raised[0].Typ != events.TypeIPBlacklistRequested || raised[0].IP != "192.0.2.9" {
		t.Fatalf("unexpected event: %+v", raised[0])
	}

	if _, err := mgr.Poll(ctx, code.DeviceCode, "192.0.2.9"); !IsExpiredToken(err) {
		t.Fatalf("the burned grant must be gone, got %v", err)
	}
}

func TestPollReturnsVerifiedGrant(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := mgr.Verify(ctx, code.UserCode, "user-1"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	mgr.SetClock(func() time.Time { return time.Now().Add(6 * time.Second) })
	got, err := mgr.Poll(ctx, code.DeviceCode, "192.0.2.9")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if !got.Verified() || *got.VerifiedBy != "user-1" {
		t.Fatalf("expected the verified grant, got %+v", got)
	}
}

func TestRedeemIsExactlyOnce(t *testing.T) {
	mgr, _, entities := newTestManager(t)
	ctx := context.Background()

	code, err := mgr.New(ctx, "client-1", nil, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if _, err := mgr.Redeem(ctx, code.DeviceCode, "192.0.2.9", "living room tv", 1000, nil); !IsAuthorizationPending(err) {
		t.Fatalf("redeeming an unverified grant must report pending, got %v", err)
	}

	if err := mgr.Verify(ctx, code.UserCode, "user-1"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	entity, err := mgr.Redeem(ctx, code.DeviceCode, "192.0.2.9", "living room tv", 1000, nil)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if entity.UserID == nil || *entity.UserID != "user-1" {
		t.Fatalf("entity not attributed to the verifying user: %+v", entity)
	}

	stored, err := entities.Get(ctx, entity.ID)
	if err != nil {
		t.Fatalf("durable record missing: %v", err)
	}
	if stored.Name != "living room tv" || stored.ClientID != "client-1" {
		t.Fatalf("durable record mismatch: %+v", stored)
	}

	if _, err := mgr.Redeem(ctx, code.DeviceCode, "192.0.2.9", "again", 1000, nil); !IsExpiredToken(err) {
		t.Fatalf("a second redeem must find nothing, got %v", err)
	}
}

func TestDurableDeviceMaintenance(t *testing.T) {
	mgr, _, entities := newTestManager(t)
	ctx := context.Background()
	userID := "user-1"

	now := time.Now().Unix()
	live := Entity{ID: "dev-live", ClientID: "client-1", UserID: &userID, AccessExp: now + 3600, PeerIP: "192.0.2.9", Name: "laptop"}
	dead := Entity{ID: "dev-dead", ClientID: "client-1", UserID: &userID, AccessExp: now - 3600, PeerIP: "192.0.2.9", Name: "old phone"}
	entities.Insert(ctx, live)
	entities.Insert(ctx, dead)

	if err := mgr.RenameDevice(ctx, "dev-live", userID, "work laptop"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if err := mgr.RenameDevice(ctx, "dev-live", "somebody-else", "stolen"); !core.IsNotFound(err) {
		t.Fatalf("rename must be owner scoped, got %v", err)
	}
	if err := mgr.RevokeDeviceRefresh(ctx, "dev-live", userID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	dropped, err := mgr.DeleteExpiredDevices(ctx)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected exactly the dead device dropped, got %d", dropped)
	}

	remaining, err := mgr.RegisteredDevices(ctx, userID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != "work laptop" {
		t.Fatalf("unexpected surviving devices: %+v", remaining)
	}
}
