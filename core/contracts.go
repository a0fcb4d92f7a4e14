package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Region is a disjoint key namespace inside the ephemeral state backend.
// Regions keep entity kinds from colliding on short keys.
type Region string

const (
	RegionApp        Region = "app"
	RegionDeviceCode Region = "device-code"
	RegionMagicLink  Region = "magic-link"
)

// StateBackend is the uniform state-access contract every higher component
// reads and writes through. Two interchangeable implementations exist: the
// standalone relational backend (store/sql) and the replicated cluster
// backend (store/cluster). The mode is selected once at construction; call
// sites never branch on it.
//
// Values are JSON-serialized. A zero ttl stores the entry without expiry.
// Get reports found=false for missing entries and for entries whose stored
// expiry has passed, even when the physical backend has not evicted them yet
// (lazy-expiry read path).
type StateBackend interface {
	Put(ctx context.Context, region Region, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, region Region, key string, dest any) (bool, error)
	Delete(ctx context.Context, region Region, key string) error

	// Execute runs a relational statement against the durable store and
	// returns the number of affected rows. Reserved for maintenance paths;
	// entity CRUD goes through the typed stores.
	Execute(ctx context.Context, query string, args ...any) (int64, error)
}

// LeaderOracle reports whether the local process currently holds cluster
// leadership. It gates cluster-wide-idempotent background work only and must
// never gate user-facing request handling.
type LeaderOracle interface {
	IsLeader(ctx context.Context) bool
}

// StaticLeaderOracle answers a fixed leadership verdict. The standalone
// relational deployment is always leader.
type StaticLeaderOracle bool

func (o StaticLeaderOracle) IsLeader(context.Context) bool {
	return bool(o)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
