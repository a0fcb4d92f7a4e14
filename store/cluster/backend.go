// Package cluster is the replicated implementation of the identity
// state contracts: KV regions live in a shared redis cache, leadership
// is a redis lease, and durable entities stay in the relational store
// with an optional read-through cache in front.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-identity/core"
)

const keyPrefix = "identity"

// envelope wraps every cached value with its own expiry so reads stay
// correct even when the cache holds the physical key a little longer
// than the logical lifetime.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at,omitempty"`
}

// Backend is the cluster StateBackend. KV operations go to redis;
// Execute is delegated to the durable relational backend, which every
// cluster node still carries for entity storage.
type Backend struct {
	client  *redis.Client
	durable core.StateBackend
	now     func() time.Time
}

func NewBackend(client *redis.Client, durable core.StateBackend) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("cluster: redis client is required")
	}
	return &Backend{client: client, durable: durable, now: time.Now}, nil
}

// SetClock overrides the backend clock for expiry tests.
func (b *Backend) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *Backend) Put(ctx context.Context, region core.Region, key string, value any, ttl time.Duration) error {
	if region == "" || key == "" {
		return fmt.Errorf("cluster: kv region and key are required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cluster: encode kv value %s/%s: %w", region, key, err)
	}
	env := envelope{Value: raw}
	if ttl > 0 {
		env.ExpiresAt = b.now().Add(ttl).Unix()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cluster: encode kv envelope %s/%s: %w", region, key, err)
	}
	return b.client.Set(ctx, cacheKey(region, key), payload, ttl).Err()
}

func (b *Backend) Get(ctx context.Context, region core.Region, key string, dest any) (bool, error) {
	payload, err := b.client.Get(ctx, cacheKey(region, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false, fmt.Errorf("cluster: decode kv envelope %s/%s: %w", region, key, err)
	}
	if env.ExpiresAt > 0 && env.ExpiresAt < b.now().Unix() {
		if err := b.client.Del(ctx, cacheKey(region, key)).Err(); err != nil {
			return false, err
		}
		return false, nil
	}

	if dest != nil {
		if err := json.Unmarshal(env.Value, dest); err != nil {
			return false, fmt.Errorf("cluster: decode kv value %s/%s: %w", region, key, err)
		}
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, region core.Region, key string) error {
	return b.client.Del(ctx, cacheKey(region, key)).Err()
}

// Execute runs against the durable relational store; the cache layer
// has no relational surface of its own.
func (b *Backend) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if b.durable == nil {
		return 0, fmt.Errorf("cluster: no durable backend configured for relational statements")
	}
	return b.durable.Execute(ctx, query, args...)
}

func cacheKey(region core.Region, key string) string {
	return keyPrefix + ":" + string(region) + ":" + key
}

var _ core.StateBackend = (*Backend)(nil)
