package core

import (
	"fmt"
	"strings"
)

const (
	BackendModeStandalone = "standalone"
	BackendModeCluster    = "cluster"
)

type BackendConfig struct {
	// Mode selects the StateBackend implementation once per process:
	// "standalone" (relational database) or "cluster" (replicated cache).
	Mode      string `koanf:"mode" mapstructure:"mode"`
	Driver    string `koanf:"driver" mapstructure:"driver"`
	Server    string `koanf:"server" mapstructure:"server"`
	RedisAddr string `koanf:"redis_addr" mapstructure:"redis_addr"`
	// NodeID identifies this process in the cluster leader lease.
	NodeID string `koanf:"node_id" mapstructure:"node_id"`
	// LeaseTTLSeconds bounds how long a crashed leader blocks re-election.
	LeaseTTLSeconds int `koanf:"lease_ttl_seconds" mapstructure:"lease_ttl_seconds"`
}

type DeviceGrantConfig struct {
	CodeLength           int `koanf:"code_length" mapstructure:"code_length"`
	UserCodeLength       int `koanf:"user_code_length" mapstructure:"user_code_length"`
	CodeLifetimeSeconds  int `koanf:"code_lifetime_seconds" mapstructure:"code_lifetime_seconds"`
	PollIntervalSeconds  int `koanf:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	WarningThreshold     int `koanf:"warning_threshold" mapstructure:"warning_threshold"`
	CacheTTLExtraSeconds int `koanf:"cache_ttl_extra_seconds" mapstructure:"cache_ttl_extra_seconds"`
}

type MagicLinkConfig struct {
	// EnforceCookieBinding rejects validation attempts whose binding cookie
	// mismatches. Disabling it downgrades the mismatch to a logged warning;
	// this is a deliberate escape hatch, not a default.
	EnforceCookieBinding   bool `koanf:"enforce_cookie_binding" mapstructure:"enforce_cookie_binding"`
	DefaultLifetimeMinutes int  `koanf:"default_lifetime_minutes" mapstructure:"default_lifetime_minutes"`
}

type EventsConfig struct {
	SubscriberBuffer  int `koanf:"subscriber_buffer" mapstructure:"subscriber_buffer"`
	KeepAliveSeconds  int `koanf:"keep_alive_seconds" mapstructure:"keep_alive_seconds"`
	RetryDelaySeconds int `koanf:"retry_delay_seconds" mapstructure:"retry_delay_seconds"`
	CleanupDays       int `koanf:"cleanup_days" mapstructure:"cleanup_days"`
}

type SchedulerConfig struct {
	IntervalSeconds int `koanf:"interval_seconds" mapstructure:"interval_seconds"`
}

type Config struct {
	ServiceName   string            `koanf:"service_name" mapstructure:"service_name"`
	PublicBaseURL string            `koanf:"public_base_url" mapstructure:"public_base_url"`
	Backend       BackendConfig     `koanf:"backend" mapstructure:"backend"`
	DeviceGrant   DeviceGrantConfig `koanf:"device_grant" mapstructure:"device_grant"`
	MagicLink     MagicLinkConfig   `koanf:"magic_link" mapstructure:"magic_link"`
	Events        EventsConfig      `koanf:"events" mapstructure:"events"`
	Scheduler     SchedulerConfig   `koanf:"scheduler" mapstructure:"scheduler"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:   "identity",
		PublicBaseURL: "http://localhost:8080",
		Backend: BackendConfig{
			Mode:            BackendModeStandalone,
			Driver:          "sqlite3",
			LeaseTTLSeconds: 15,
		},
		DeviceGrant: DeviceGrantConfig{
			CodeLength:           64,
			UserCodeLength:       8,
			CodeLifetimeSeconds:  300,
			PollIntervalSeconds:  5,
			WarningThreshold:     3,
			CacheTTLExtraSeconds: 10,
		},
		MagicLink: MagicLinkConfig{
			EnforceCookieBinding:   true,
			DefaultLifetimeMinutes: 30,
		},
		Events: EventsConfig{
			SubscriberBuffer:  10,
			KeepAliveSeconds:  30,
			RetryDelaySeconds: 10,
			CleanupDays:       31,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 3600,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	mode := strings.TrimSpace(strings.ToLower(c.Backend.Mode))
	if mode != BackendModeStandalone && mode != BackendModeCluster {
		return fmt.Errorf("core: backend mode must be %q or %q, got %q",
			BackendModeStandalone, BackendModeCluster, c.Backend.Mode)
	}
	if mode == BackendModeCluster && strings.TrimSpace(c.Backend.RedisAddr) == "" {
		return fmt.Errorf("core: backend redis_addr is required in cluster mode")
	}
	if c.DeviceGrant.UserCodeLength <= 0 || c.DeviceGrant.CodeLength <= c.DeviceGrant.UserCodeLength {
		return fmt.Errorf("core: device_grant code_length must exceed user_code_length")
	}
	if c.DeviceGrant.CodeLifetimeSeconds <= 0 {
		return fmt.Errorf("core: device_grant code_lifetime_seconds must be positive")
	}
	if c.MagicLink.DefaultLifetimeMinutes <= 0 {
		return fmt.Errorf("core: magic_link default_lifetime_minutes must be positive")
	}
	if c.Events.CleanupDays <= 0 {
		return fmt.Errorf("core: events cleanup_days must be positive")
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("core: scheduler interval_seconds must be positive")
	}
	return nil
}
