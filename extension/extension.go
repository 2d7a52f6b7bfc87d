// Package extension provides the Forge extension adapter for the job
// queue.
//
// It implements the forge.Extension interface so the queue can be
// mounted into a Forge application with configuration loading, store
// selection, and lifecycle management handled by the host app.
//
// Configuration can be provided programmatically via ExtOption functions
// or via YAML configuration files under "extensions.jobqueue" or
// "jobqueue" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/forge"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/engine"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/store"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/store/memory"
	pgstore "github.com/lazylmf-ai/Easy-e-Invoice-sub002/store/postgres"
	redisstore "github.com/lazylmf-ai/Easy-e-Invoice-sub002/store/redis"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "jobqueue"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Asynchronous job processing: priority queue, retries, cancellation, dead letters, and maintenance schedules"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the job queue as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config  Config
	svc     *jobqueue.Service
	eng     *engine.Engine
	store   store.Store
	logger  *slog.Logger
	engOpts []engine.Option

	// redisClient is owned by the extension when it built the client
	// itself from config; Stop closes it.
	redisClient *goredis.Client
}

// New creates a job queue Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying job queue engine.
// This is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// Service returns the underlying service.
func (e *Extension) Service() *jobqueue.Service { return e.svc }

// Store returns the persistence backend.
func (e *Extension) Store() store.Store { return e.store }

// Register implements [forge.Extension]. It loads configuration, builds
// the store, and wires the engine.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	return e.init()
}

// init builds the store, service, and engine.
func (e *Extension) init() error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	if e.store == nil {
		st, err := e.buildStore(logger)
		if err != nil {
			return err
		}
		e.store = st
	}

	svcOpts := []jobqueue.Option{
		jobqueue.WithLogger(logger),
		jobqueue.WithStore(e.store),
	}
	if e.config.Concurrency > 0 {
		svcOpts = append(svcOpts, jobqueue.WithConcurrency(e.config.Concurrency))
	}

	svc, err := jobqueue.New(svcOpts...)
	if err != nil {
		return fmt.Errorf("jobqueue: create service: %w", err)
	}
	e.svc = svc

	eng, err := engine.Build(svc, e.store, e.engOpts...)
	if err != nil {
		return fmt.Errorf("jobqueue: build engine: %w", err)
	}
	e.eng = eng

	return nil
}

// buildStore constructs the persistence backend named by config.
func (e *Extension) buildStore(logger *slog.Logger) (store.Store, error) {
	switch e.config.Backend {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		if e.config.RedisAddr == "" {
			return nil, errors.New("jobqueue: redis backend requires redis_addr")
		}
		e.redisClient = goredis.NewClient(&goredis.Options{
			Addr:     e.config.RedisAddr,
			Password: e.config.RedisPassword,
			DB:       e.config.RedisDB,
		})
		return redisstore.New(e.redisClient, redisstore.WithLogger(logger)), nil
	case "postgres":
		if e.config.PostgresDSN == "" {
			return nil, errors.New("jobqueue: postgres backend requires postgres_dsn")
		}
		st, err := pgstore.New(context.Background(), e.config.PostgresDSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("jobqueue: connect postgres: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("jobqueue: unsupported backend %q", e.config.Backend)
	}
}

// Start begins job processing and runs auto-migration if enabled.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("jobqueue: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("jobqueue: migration failed: %w", err)
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop gracefully shuts down the engine and any store connections the
// extension owns.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}

	err := e.eng.Stop(ctx)

	if e.redisClient != nil {
		if closeErr := e.redisClient.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("jobqueue: close redis client: %w", closeErr)
		}
	}

	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("jobqueue: extension not initialized")
	}
	return e.store.Ping(ctx)
}

// --- Config loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("jobqueue: configuration is required but not found in config files; " +
				"ensure 'extensions.jobqueue' or 'jobqueue' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("jobqueue: configuration loaded",
		forge.F("backend", e.config.Backend),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("concurrency", e.config.Concurrency),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.jobqueue" first (namespaced pattern).
	if cm.IsSet("extensions.jobqueue") {
		if err := cm.Bind("extensions.jobqueue", &cfg); err == nil {
			e.Logger().Debug("jobqueue: loaded config from file",
				forge.F("key", "extensions.jobqueue"),
			)
			return cfg, true
		}
		e.Logger().Warn("jobqueue: failed to bind extensions.jobqueue config")
	}

	// Try bare "jobqueue" key.
	if cm.IsSet("jobqueue") {
		if err := cm.Bind("jobqueue", &cfg); err == nil {
			e.Logger().Debug("jobqueue: loaded config from file",
				forge.F("key", "jobqueue"),
			)
			return cfg, true
		}
		e.Logger().Warn("jobqueue: failed to bind jobqueue config")
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Backend == "" {
		cfg.Backend = defaults.Backend
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML takes precedence for most fields; programmatic flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.Backend == "" && programmaticConfig.Backend != "" {
		yamlConfig.Backend = programmaticConfig.Backend
	}
	if yamlConfig.PostgresDSN == "" && programmaticConfig.PostgresDSN != "" {
		yamlConfig.PostgresDSN = programmaticConfig.PostgresDSN
	}
	if yamlConfig.RedisAddr == "" && programmaticConfig.RedisAddr != "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}
	if yamlConfig.RedisPassword == "" && programmaticConfig.RedisPassword != "" {
		yamlConfig.RedisPassword = programmaticConfig.RedisPassword
	}
	if yamlConfig.RedisDB == 0 && programmaticConfig.RedisDB != 0 {
		yamlConfig.RedisDB = programmaticConfig.RedisDB
	}
	if yamlConfig.Concurrency == 0 && programmaticConfig.Concurrency != 0 {
		yamlConfig.Concurrency = programmaticConfig.Concurrency
	}

	return mergeWithDefaults(yamlConfig)
}
