package jobqueue

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Service.
type Option func(*Service) error

// Storer is the minimal store interface held by the Service. It covers
// lifecycle operations only; the full composite interface (store.Store)
// is consumed by the engine package, which sits above the subsystem
// packages and so creates no import cycle.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown hooks.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Service is the explicitly constructed owner of the job processing core:
// it holds the storage handle and configuration and is handed by reference
// to the HTTP layer and the worker pool at process start. There is no
// implicit global queue instance.
type Service struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	started bool
}

// New creates a Service with the given options.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the service's structured logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Store returns the service's store.
func (s *Service) Store() Storer { return s.store }

// Config returns a copy of the service's configuration.
func (s *Service) Config() Config { return s.config }

// SetPool sets the worker pool (called by the engine package at wiring time).
func (s *Service) SetPool(p poolRunner) { s.pool = p }

// SetHooks sets the hook emitter (called by the engine package at wiring time).
func (s *Service) SetHooks(h hookEmitter) { s.hooks = h }

// Start begins job processing.
func (s *Service) Start(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoStore
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the service: the pool drains in-flight work
// within Config.ShutdownTimeout, shutdown hooks fire, and the store closes.
func (s *Service) Stop(ctx context.Context) error {
	if s.pool != nil && s.started {
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Error("pool stop error", "error", err)
		}
	}
	if s.hooks != nil {
		s.hooks.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job executions.
func WithConcurrency(n int) Option {
	return func(s *Service) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often idle worker slots poll for work.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) error {
		s.config.PollInterval = d
		return nil
	}
}

// WithGracePeriod sets how long cancellation waits for cooperative exit.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) error {
		s.config.GracePeriod = d
		return nil
	}
}

// WithLogger sets the structured logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; typically it is a store.Store embedding all subsystem stores.
func WithStore(st Storer) Option {
	return func(s *Service) error {
		s.store = st
		return nil
	}
}

// WithConfig replaces the whole configuration at once.
func WithConfig(c Config) Option {
	return func(s *Service) error {
		s.config = c
		return nil
	}
}
