package extension

import (
	"log/slog"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/engine"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/hook"
	mw "github.com/lazylmf-ai/Easy-e-Invoice-sub002/middleware"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/queue"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/store"
)

// ExtOption configures the job queue Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend directly, bypassing the
// backend selection from config.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithConcurrency sets the maximum number of concurrently processed jobs.
func WithConcurrency(n int) ExtOption {
	return func(e *Extension) {
		e.config.Concurrency = n
	}
}

// WithMiddleware adds job middleware to the engine's execution chain.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithMiddleware(m))
	}
}

// WithListener registers a lifecycle listener with the engine.
func WithListener(l hook.Listener) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithListener(l))
	}
}

// WithRetryPolicy overrides the retry policy for a job type.
func WithRetryPolicy(jobType string, p retry.Policy) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithRetryPolicy(jobType, p))
	}
}

// WithAdmissionLimits registers per-type admission limits.
func WithAdmissionLimits(limits ...queue.Limit) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithAdmissionLimits(limits...))
	}
}

// WithEngineOption passes an engine option through to Build.
func WithEngineOption(opt engine.Option) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, opt)
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithLogger sets the structured logger for the extension and engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}
