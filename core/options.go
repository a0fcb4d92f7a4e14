package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	backend         StateBackend
	oracle          LeaderOracle
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStateBackend(backend StateBackend) Option {
	return func(b *serviceBuilder) {
		b.backend = backend
	}
}

func WithLeaderOracle(oracle LeaderOracle) Option {
	return func(b *serviceBuilder) {
		b.oracle = oracle
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("identity", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return IdentityErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.PublicBaseURL) != "" {
		layer["public_base_url"] = cfg.PublicBaseURL
	}

	backend := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Backend.Mode) != "" {
		backend["mode"] = cfg.Backend.Mode
	}
	if includeZero || strings.TrimSpace(cfg.Backend.Driver) != "" {
		backend["driver"] = cfg.Backend.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Backend.Server) != "" {
		backend["server"] = cfg.Backend.Server
	}
	if includeZero || strings.TrimSpace(cfg.Backend.RedisAddr) != "" {
		backend["redis_addr"] = cfg.Backend.RedisAddr
	}
	if includeZero || strings.TrimSpace(cfg.Backend.NodeID) != "" {
		backend["node_id"] = cfg.Backend.NodeID
	}
	if includeZero || cfg.Backend.LeaseTTLSeconds > 0 {
		backend["lease_ttl_seconds"] = cfg.Backend.LeaseTTLSeconds
	}
	if len(backend) > 0 {
		layer["backend"] = backend
	}

	device := map[string]any{}
	if includeZero || cfg.DeviceGrant.CodeLength > 0 {
		device["code_length"] = cfg.DeviceGrant.CodeLength
	}
	if includeZero || cfg.DeviceGrant.UserCodeLength > 0 {
		device["user_code_length"] = cfg.DeviceGrant.UserCodeLength
	}
	if includeZero || cfg.DeviceGrant.CodeLifetimeSeconds > 0 {
		device["code_lifetime_seconds"] = cfg.DeviceGrant.CodeLifetimeSeconds
	}
	if includeZero || cfg.DeviceGrant.PollIntervalSeconds > 0 {
		device["poll_interval_seconds"] = cfg.DeviceGrant.PollIntervalSeconds
	}
	if includeZero || cfg.DeviceGrant.WarningThreshold > 0 {
		device["warning_threshold"] = cfg.DeviceGrant.WarningThreshold
	}
	if includeZero || cfg.DeviceGrant.CacheTTLExtraSeconds > 0 {
		device["cache_ttl_extra_seconds"] = cfg.DeviceGrant.CacheTTLExtraSeconds
	}
	if len(device) > 0 {
		layer["device_grant"] = device
	}

	magic := map[string]any{}
	if includeZero || cfg.MagicLink.EnforceCookieBinding {
		magic["enforce_cookie_binding"] = cfg.MagicLink.EnforceCookieBinding
	}
	if includeZero || cfg.MagicLink.DefaultLifetimeMinutes > 0 {
		magic["default_lifetime_minutes"] = cfg.MagicLink.DefaultLifetimeMinutes
	}
	if len(magic) > 0 {
		layer["magic_link"] = magic
	}

	events := map[string]any{}
	if includeZero || cfg.Events.SubscriberBuffer > 0 {
		events["subscriber_buffer"] = cfg.Events.SubscriberBuffer
	}
	if includeZero || cfg.Events.KeepAliveSeconds > 0 {
		events["keep_alive_seconds"] = cfg.Events.KeepAliveSeconds
	}
	if includeZero || cfg.Events.RetryDelaySeconds > 0 {
		events["retry_delay_seconds"] = cfg.Events.RetryDelaySeconds
	}
	if includeZero || cfg.Events.CleanupDays > 0 {
		events["cleanup_days"] = cfg.Events.CleanupDays
	}
	if len(events) > 0 {
		layer["events"] = events
	}

	scheduler := map[string]any{}
	if includeZero || cfg.Scheduler.IntervalSeconds > 0 {
		scheduler["interval_seconds"] = cfg.Scheduler.IntervalSeconds
	}
	if len(scheduler) > 0 {
		layer["scheduler"] = scheduler
	}

	return layer
}
