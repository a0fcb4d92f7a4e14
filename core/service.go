package core

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the process-wide identity state context. It resolves
// configuration once, selects the StateBackend and LeaderOracle for the
// lifetime of the process, and hands both to every component constructor.
// There is no global handle; everything flows through this object.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	backend         StateBackend
	oracle          LeaderOracle
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("identity", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("identity"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	backend := builder.backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	oracle := builder.oracle
	if oracle == nil {
		if backendOracle, ok := backend.(LeaderOracle); ok {
			oracle = backendOracle
		} else {
			oracle = StaticLeaderOracle(true)
		}
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		backend:         backend,
		oracle:          oracle,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) LoggerProvider() LoggerProvider {
	if s == nil {
		return nil
	}
	return s.loggerProvider
}

func (s *Service) Metrics() MetricsRecorder {
	if s == nil {
		return NopMetricsRecorder{}
	}
	return s.metricsRecorder
}

func (s *Service) Backend() StateBackend {
	if s == nil {
		return nil
	}
	return s.backend
}

func (s *Service) Oracle() LeaderOracle {
	if s == nil {
		return StaticLeaderOracle(true)
	}
	return s.oracle
}

func (s *Service) MapError(err error) *goerrors.Error {
	if s == nil || s.errorMapper == nil {
		return defaultErrorMapper(err)
	}
	return s.errorMapper(err)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}
