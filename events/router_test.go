package events

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-identity/core"
)

type memEventStore struct {
	mu     sync.Mutex
	events []Event
}

func (s *memEventStore) Append(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memEventStore) Find(_ context.Context, q Query) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, evt := range s.events {
		if q.From > 0 && evt.Timestamp < q.From {
			continue
		}
		if q.Until > 0 && evt.Timestamp > q.Until {
			continue
		}
		if evt.Level < q.Level {
			continue
		}
		if q.Typ != "" && evt.Typ != q.Typ {
			continue
		}
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *memEventStore) DeleteOlderThan(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Event
	var dropped int64
	for _, evt := range s.events {
		if evt.Timestamp < cutoff {
			dropped++
			continue
		}
		kept = append(kept, evt)
	}
	s.events = kept
	return dropped, nil
}

func (s *memEventStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestRouter(t *testing.T, store Store, buffer int) *Router {
	t.Helper()
	router, err := NewRouter(store, core.EventsConfig{SubscriberBuffer: buffer}, nil)
	if err != nil {
		t.Fatalf("router construction failed: %v", err)
	}
	router.Start(context.Background())
	t.Cleanup(router.Close)
	return router
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func expectClosed(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var drained []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return drained
			}
			drained = append(drained, evt)
		case <-deadline:
			t.Fatal("timed out waiting for the subscription to close")
		}
	}
}

func TestRouterPersistsAndFiltersByLevel(t *testing.T) {
	store := &memEventStore{}
	router := newTestRouter(t, store, 10)

	everything, err := router.Subscribe("10.0.0.1", LevelInfo, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	critical, err := router.Subscribe("10.0.0.2", LevelCritical, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	router.Send(TestEvent("192.0.2.1"))
	router.Send(IPBlacklistRequested("192.0.2.66", 3))

	if evt := receive(t, everything); evt.Typ != TypeTest {
		t.Fatalf("expected the test event first, got %s", evt.Typ)
	}
	if evt := receive(t, everything); evt.Typ != TypeIPBlacklistRequested {
		t.Fatalf("expected the blacklist event second, got %s", evt.Typ)
	}

	evt := receive(t, critical)
	if evt.Typ != TypeIPBlacklistRequested {
		t.Fatalf("the critical subscriber must only see critical events, got %s", evt.Typ)
	}
	select {
	case extra := <-critical.Events():
		t.Fatalf("unexpected extra delivery: %s", extra.Typ)
	default:
	}

	if store.count() != 2 {
		t.Fatalf("expected both events persisted, got %d", store.count())
	}
}

func TestRouterReplaysBacklogBeforeLive(t *testing.T) {
	store := &memEventStore{}

	old := TestEvent("192.0.2.1")
	old.Timestamp = 100
	missed := TestEvent("192.0.2.2")
	missed.Timestamp = 200
	store.Append(context.Background(), old)
	store.Append(context.Background(), missed)

	router := newTestRouter(t, store, 10)

	sub, err := router.Subscribe("10.0.0.1", LevelInfo, 100)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	router.Send(TestEvent("192.0.2.3"))

	first := receive(t, sub)
	if first.IP != "192.0.2.2" {
		t.Fatalf("expected the missed event replayed first, got ip %s", first.IP)
	}
	second := receive(t, sub)
	if second.IP != "192.0.2.3" {
		t.Fatalf("expected the live event after the backlog, got ip %s", second.IP)
	}
}

func TestRouterDropsSlowSubscriber(t *testing.T) {
	store := &memEventStore{}
	router := newTestRouter(t, store, 1)

	slow, err := router.Subscribe("10.0.0.1", LevelInfo, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	router.Send(TestEvent("192.0.2.1"))
	router.Send(TestEvent("192.0.2.2"))

	// Draining before the consumer handled both sends would free buffer
	// space and mask the overflow, so wait for persistence first.
	deadline := time.After(2 * time.Second)
	for store.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("events were not persisted in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	drained := expectClosed(t, slow)
	if len(drained) != 1 {
		t.Fatalf("expected only the buffered event before removal, got %d", len(drained))
	}

	// The router keeps serving the survivors.
	live, err := router.Subscribe("10.0.0.2", LevelInfo, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	router.Send(TestEvent("192.0.2.3"))
	if evt := receive(t, live); evt.IP != "192.0.2.3" {
		t.Fatalf("expected the follow-up event, got ip %s", evt.IP)
	}
}

func TestRouterCloseClosesSubscribers(t *testing.T) {
	store := &memEventStore{}
	router, err := NewRouter(store, core.EventsConfig{SubscriberBuffer: 10}, nil)
	if err != nil {
		t.Fatalf("router construction failed: %v", err)
	}
	router.Start(context.Background())

	sub, err := router.Subscribe("10.0.0.1", LevelInfo, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	router.Close()
	expectClosed(t, sub)

	if _, err := router.Subscribe("10.0.0.2", LevelInfo, 0); err == nil {
		t.Fatal("expected subscribe after close to fail")
	}
	// Send after close is a silent drop, not a panic.
	router.Send(TestEvent("192.0.2.1"))
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	store := &memEventStore{}
	router := newTestRouter(t, store, 10)

	sub, err := router.Subscribe("10.0.0.1", LevelInfo, 0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	sub.Close()
	sub.Close()
	expectClosed(t, sub)

	router.Send(TestEvent("192.0.2.1"))
	deadline := time.After(time.Second)
	for store.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("event was not persisted after subscriber removal")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
