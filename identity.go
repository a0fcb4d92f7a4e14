package identity

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/device"
	"github.com/goliatone/go-identity/events"
	"github.com/goliatone/go-identity/magiclink"
	"github.com/goliatone/go-identity/scheduler"
	"github.com/goliatone/go-identity/store/cluster"
	sqlstore "github.com/goliatone/go-identity/store/sql"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type StateBackend = core.StateBackend
type LeaderOracle = core.LeaderOracle
type Region = core.Region

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorFactory    = core.WithErrorFactory
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithStateBackend    = core.WithStateBackend
	WithLeaderOracle    = core.WithLeaderOracle
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// NewBackend selects the state backend and leader oracle once from
// configuration. Standalone mode keeps every region in the relational
// database and is always leader; cluster mode keeps regions in redis
// behind a lease-based leader, with durable entities still relational.
// Call sites never branch on mode again: they hold the returned
// contracts for the life of the process.
func NewBackend(cfg Config, db *bun.DB, logger core.Logger) (StateBackend, LeaderOracle, error) {
	durable, err := sqlstore.NewBackend(db)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend.Mode {
	case core.BackendModeStandalone, "":
		return durable, durable, nil
	case core.BackendModeCluster:
		client := redis.NewClient(&redis.Options{Addr: cfg.Backend.RedisAddr})
		backend, err := cluster.NewBackend(client, durable)
		if err != nil {
			return nil, nil, err
		}
		elector, err := cluster.NewLeaderElector(client, cfg.Backend, logger)
		if err != nil {
			return nil, nil, err
		}
		return backend, elector, nil
	default:
		return nil, nil, fmt.Errorf("identity: unknown backend mode %q", cfg.Backend.Mode)
	}
}

// Stores names the durable stores a Stack composes over. Any
// implementation of the domain store contracts works; store/sql ships
// the relational one and store/cluster layers caching on top.
type Stores struct {
	MagicLinks magiclink.Store
	Devices    device.EntityStore
	Events     events.Store
}

// Stack is the assembled identity module: one events router, the two
// domain managers wired to it, and the leader-gated maintenance runner.
type Stack struct {
	service *Service

	MagicLinks  *magiclink.Manager
	Devices     *device.Manager
	Events      *events.Router
	Maintenance *scheduler.Runner
}

// NewStack wires the domain managers over the given stores using the
// service's resolved configuration, backend, and leadership oracle.
func NewStack(service *Service, stores Stores) (*Stack, error) {
	if service == nil {
		return nil, fmt.Errorf("identity: service is required")
	}
	if stores.MagicLinks == nil || stores.Devices == nil || stores.Events == nil {
		return nil, fmt.Errorf("identity: magic link, device, and event stores are required")
	}

	cfg := service.Config()
	logger := service.Logger()

	router, err := events.NewRouter(stores.Events, cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	links, err := magiclink.NewManager(stores.MagicLinks, cfg.MagicLink, logger)
	if err != nil {
		return nil, err
	}
	devices, err := device.NewManager(service.Backend(), stores.Devices, router, cfg.DeviceGrant, logger)
	if err != nil {
		return nil, err
	}

	runner, err := scheduler.NewRunner(cfg.Scheduler, service.Oracle(), logger)
	if err != nil {
		return nil, err
	}
	for _, task := range []scheduler.Task{
		scheduler.EventRetentionTask(stores.Events, cfg.Events),
		scheduler.MagicLinkPurgeTask(links),
		scheduler.DeviceCleanupTask(devices),
	} {
		if err := runner.Register(task); err != nil {
			return nil, err
		}
	}

	return &Stack{
		service:     service,
		MagicLinks:  links,
		Devices:     devices,
		Events:      router,
		Maintenance: runner,
	}, nil
}

// Start launches the event consumer and the maintenance loop. Both stop
// when ctx is canceled; Stop shuts them down earlier.
func (s *Stack) Start(ctx context.Context) {
	s.Events.Start(ctx)
	s.Maintenance.Start(ctx)
}

func (s *Stack) Stop() {
	s.Maintenance.Stop()
	s.Events.Close()
}

func (s *Stack) Service() *Service {
	if s == nil {
		return nil
	}
	return s.service
}
