package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-identity/core"
)

func newTestElector(t *testing.T, client *redis.Client, nodeID string) *LeaderElector {
	t.Helper()

	cfg := core.BackendConfig{NodeID: nodeID, LeaseTTLSeconds: 15}
	elector, err := NewLeaderElector(client, cfg, nil)
	if err != nil {
		t.Fatalf("new leader elector: %v", err)
	}
	return elector
}

func TestExactlyOneLeaderPerLease(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	nodes := []*LeaderElector{
		newTestElector(t, client, "node-a"),
		newTestElector(t, client, "node-b"),
		newTestElector(t, client, "node-c"),
	}

	leaders := 0
	for _, node := range nodes {
		if node.Campaign(ctx) {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaders)
	}
	if !nodes[0].IsLeader(ctx) {
		t.Fatal("expected the first campaigner to hold the lease")
	}

	// Further rounds keep the verdict stable while the lease is live.
	for range 3 {
		leaders = 0
		for _, node := range nodes {
			if node.Campaign(ctx) {
				leaders++
			}
		}
		if leaders != 1 {
			t.Fatalf("expected leadership to stay with one node, got %d", leaders)
		}
	}
}

func TestLeadershipMovesWhenLeaseLapses(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first := newTestElector(t, client, "node-a")
	second := newTestElector(t, client, "node-b")

	if !first.Campaign(ctx) {
		t.Fatal("expected first node to win the initial election")
	}
	if second.Campaign(ctx) {
		t.Fatal("expected second node to lose while the lease is held")
	}

	// The holder crashes and stops refreshing; the lease runs out.
	mr.FastForward(16 * time.Second)

	if !second.Campaign(ctx) {
		t.Fatal("expected second node to take over a lapsed lease")
	}
	if first.Campaign(ctx) {
		t.Fatal("expected first node to observe the new holder and demote")
	}
	if first.IsLeader(ctx) {
		t.Fatal("expected first node to report non-leader after demotion")
	}
}

func TestStopReleasesHeldLease(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	first := newTestElector(t, client, "node-a")
	second := newTestElector(t, client, "node-b")

	first.Start(ctx)
	if !first.IsLeader(ctx) {
		t.Fatal("expected start to run an initial election round")
	}
	first.Stop()

	if first.IsLeader(ctx) {
		t.Fatal("expected stopped node to drop leadership")
	}
	if !second.Campaign(ctx) {
		t.Fatal("expected released lease to be winnable immediately")
	}
}

func TestElectorRequiresNodeID(t *testing.T) {
	_, client := newTestRedis(t)

	if _, err := NewLeaderElector(client, core.BackendConfig{}, nil); err == nil {
		t.Fatal("expected an error when node id is missing")
	}
}
