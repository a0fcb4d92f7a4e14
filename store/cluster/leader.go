package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-identity/core"
)

const leaseKey = keyPrefix + ":leader"

// LeaderElector competes for a redis lease key. Whoever sets the key
// first holds leadership and keeps refreshing it; everyone else watches
// and takes over when the lease lapses. IsLeader never touches the
// network, it reads the verdict of the most recent election round.
type LeaderElector struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
	logger core.Logger

	leader  atomic.Bool
	started atomic.Bool

	startOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewLeaderElector(client *redis.Client, cfg core.BackendConfig, logger core.Logger) (*LeaderElector, error) {
	if client == nil {
		return nil, fmt.Errorf("cluster: redis client is required")
	}
	nodeID := strings.TrimSpace(cfg.NodeID)
	if nodeID == "" {
		return nil, fmt.Errorf("cluster: node id is required for leader election")
	}
	ttlSeconds := cfg.LeaseTTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = core.DefaultConfig().Backend.LeaseTTLSeconds
	}
	return &LeaderElector{
		client: client,
		nodeID: nodeID,
		ttl:    time.Duration(ttlSeconds) * time.Second,
		logger: glog.Ensure(logger),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start runs the first election round synchronously, then keeps
// refreshing in the background until Stop or ctx cancellation.
func (e *LeaderElector) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.started.Store(true)
		e.campaign(ctx)
		go e.run(ctx)
	})
}

// Stop ends the refresh loop and releases the lease when held, so the
// next round does not have to wait out the TTL.
func (e *LeaderElector) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	if e.started.Load() {
		<-e.done
	}

	if e.leader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.release(ctx)
	}
}

func (e *LeaderElector) IsLeader(context.Context) bool {
	return e.leader.Load()
}

// Campaign runs a single election round. Exposed for tests and for
// hosts that drive timing themselves; Start's loop calls it on every
// tick.
func (e *LeaderElector) Campaign(ctx context.Context) bool {
	e.campaign(ctx)
	return e.leader.Load()
}

func (e *LeaderElector) run(ctx context.Context) {
	defer close(e.done)

	interval := e.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.campaign(ctx)
		}
	}
}

func (e *LeaderElector) campaign(ctx context.Context) {
	acquired, err := e.client.SetNX(ctx, leaseKey, e.nodeID, e.ttl).Result()
	if err != nil {
		// Losing contact with redis forfeits leadership: better a missed
		// maintenance tick than two nodes running it.
		e.demote("lease acquisition failed", err)
		return
	}
	if acquired {
		if !e.leader.Swap(true) {
			e.logger.Info("acquired cluster leadership", "node_id", e.nodeID)
		}
		return
	}

	holder, err := e.client.Get(ctx, leaseKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Lease lapsed between SetNX and Get; next round decides.
			return
		}
		e.demote("lease holder lookup failed", err)
		return
	}
	if holder != e.nodeID {
		e.demote("", nil)
		return
	}
	if err := e.client.Expire(ctx, leaseKey, e.ttl).Err(); err != nil {
		e.demote("lease refresh failed", err)
		return
	}
	e.leader.Store(true)
}

func (e *LeaderElector) demote(reason string, err error) {
	if e.leader.Swap(false) && reason != "" {
		e.logger.Warn("lost cluster leadership", "node_id", e.nodeID, "reason", reason, "error", err)
	}
}

func (e *LeaderElector) release(ctx context.Context) {
	holder, err := e.client.Get(ctx, leaseKey).Result()
	if err != nil || holder != e.nodeID {
		return
	}
	if err := e.client.Del(ctx, leaseKey).Err(); err != nil {
		e.logger.Warn("releasing leadership lease failed", "node_id", e.nodeID, "error", err)
	}
	e.leader.Store(false)
}

var _ core.LeaderOracle = (*LeaderElector)(nil)
