package scheduler

import (
	"context"
	"time"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/device"
	"github.com/goliatone/go-identity/events"
	"github.com/goliatone/go-identity/magiclink"
)

const (
	TaskEventRetention = "events.retention"
	TaskMagicLinkPurge = "magic_links.purge"
	TaskDeviceCleanup  = "devices.cleanup"
)

// EventRetentionTask drops persisted events older than the configured
// retention window.
func EventRetentionTask(store events.Store, cfg core.EventsConfig) Task {
	days := cfg.CleanupDays
	if days <= 0 {
		days = core.DefaultConfig().Events.CleanupDays
	}
	retention := time.Duration(days) * 24 * time.Hour
	return Task{
		Name: TaskEventRetention,
		Run: func(ctx context.Context) (int64, error) {
			cutoff := time.Now().Add(-retention).UnixMilli()
			return store.DeleteOlderThan(ctx, cutoff)
		},
	}
}

// MagicLinkPurgeTask removes magic links whose lifetime has passed.
// Invalidated links are backdated, so they fall under the same cutoff.
func MagicLinkPurgeTask(manager *magiclink.Manager) Task {
	return Task{
		Name: TaskMagicLinkPurge,
		Run: func(ctx context.Context) (int64, error) {
			return manager.DeleteExpired(ctx, time.Now())
		},
	}
}

// DeviceCleanupTask removes registered devices whose access token and
// refresh token have both expired.
func DeviceCleanupTask(manager *device.Manager) Task {
	return Task{
		Name: TaskDeviceCleanup,
		Run:  manager.DeleteExpiredDevices,
	}
}
