package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && e.expiresAt.Before(now)
}

// MemoryBackend is a process-local StateBackend used as the default wiring
// target and in tests. It honors the same lazy-expiry read contract as the
// production backends: a logically expired entry is deleted on read and
// reported as missing. It has no relational store, so Execute always fails.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[Region]map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: map[Region]map[string]memoryEntry{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (b *MemoryBackend) Put(_ context.Context, region Region, key string, value any, ttl time.Duration) error {
	if b == nil {
		return fmt.Errorf("core: memory backend is not configured")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return NewInternal(err, "core: serializing cache entry")
	}

	entry := memoryEntry{value: payload}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.entries[region]
	if !ok {
		bucket = map[string]memoryEntry{}
		b.entries[region] = bucket
	}
	bucket[key] = entry
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, region Region, key string, dest any) (bool, error) {
	if b == nil {
		return false, fmt.Errorf("core: memory backend is not configured")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.entries[region]
	if !ok {
		return false, nil
	}
	entry, ok := bucket[key]
	if !ok {
		return false, nil
	}
	if entry.expired(b.now()) {
		delete(bucket, key)
		return false, nil
	}
	if dest != nil {
		if err := json.Unmarshal(entry.value, dest); err != nil {
			return false, NewInternal(err, "core: deserializing cache entry")
		}
	}
	return true, nil
}

func (b *MemoryBackend) Delete(_ context.Context, region Region, key string) error {
	if b == nil {
		return fmt.Errorf("core: memory backend is not configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if bucket, ok := b.entries[region]; ok {
		delete(bucket, key)
	}
	return nil
}

func (b *MemoryBackend) Execute(context.Context, string, ...any) (int64, error) {
	return 0, fmt.Errorf("core: memory backend has no relational store")
}

// SetClock overrides the backend clock. Tests use it to drive lazy expiry
// without sleeping.
func (b *MemoryBackend) SetClock(now func() time.Time) {
	if b == nil || now == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

var _ StateBackend = (*MemoryBackend)(nil)
