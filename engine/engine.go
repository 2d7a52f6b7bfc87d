// Package engine wires all job queue subsystems together: the processor
// registry, retry policies, hook registry, queue, worker pool, and
// maintenance scheduler.
//
// This package exists to break the import cycle: the root jobqueue
// package defines Entity (imported by job, dlq, event, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cron"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/event"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/hook"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	mw "github.com/lazylmf-ai/Easy-e-Invoice-sub002/middleware"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/observability"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/queue"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/store"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/worker"
)

// Engine owns the wired subsystems. Use Build() to create one from a
// Service and a store.
type Engine struct {
	svc      *jobqueue.Service
	store    store.Store
	registry *job.Registry
	policies *retry.Policies
	hooks    *hook.Registry
	bus      *event.Bus

	coordinator *cancel.Coordinator
	deadLetters *dlq.Service
	queue       *queue.Queue
	pool        *worker.Pool
	scheduler   *cron.Scheduler
	admission   *queue.Admission
	logger      *slog.Logger

	// Build-time configuration collected from options.
	mws       []mw.Middleware
	listeners []hook.Listener
	limits    []queue.Limit
	orgLimits []queue.OrgLimit
	overrides map[string]retry.Policy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithMiddleware adds middleware to the engine's execution chain, after
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithListener registers a lifecycle listener with the engine's hook
// registry.
func WithListener(l hook.Listener) Option {
	return func(eng *Engine) {
		eng.listeners = append(eng.listeners, l)
	}
}

// WithRetryPolicy overrides the retry policy for a job type.
func WithRetryPolicy(jobType string, p retry.Policy) Option {
	return func(eng *Engine) {
		eng.overrides[jobType] = p
	}
}

// WithAdmissionLimits registers per-type admission limits. Types not
// listed have no limits.
func WithAdmissionLimits(limits ...queue.Limit) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, limits...)
	}
}

// WithOrgAdmissionLimit registers an admission limit for a specific
// organization on a specific job type.
func WithOrgAdmissionLimit(limits ...queue.OrgLimit) Option {
	return func(eng *Engine) {
		eng.orgLimits = append(eng.orgLimits, limits...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build wires an Engine onto an existing Service and store.
func Build(svc *jobqueue.Service, st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, jobqueue.ErrNoStore
	}
	logger := svc.Logger()
	config := svc.Config()

	eng := &Engine{
		svc:       svc,
		store:     st,
		registry:  job.NewRegistry(),
		policies:  retry.DefaultPolicies(),
		logger:    logger,
		overrides: make(map[string]retry.Policy),
	}

	for _, opt := range opts {
		opt(eng)
	}

	for jobType, p := range eng.overrides {
		eng.policies.Set(jobType, p)
	}

	// Hook registry: the event emitter and metrics listener are always
	// wired; application listeners come from options.
	eng.hooks = hook.NewRegistry(logger)
	eng.bus = event.NewBus(st)
	eng.hooks.Register(event.NewEmitter(eng.bus, logger))
	eng.hooks.Register(observability.NewMetricsListener())
	for _, l := range eng.listeners {
		eng.hooks.Register(l)
	}

	eng.coordinator = cancel.NewCoordinator()
	eng.deadLetters = dlq.NewService(st, st)

	eng.queue = queue.New(
		st, eng.registry, eng.policies, eng.hooks,
		eng.deadLetters, eng.coordinator,
		logger, config.GracePeriod,
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/lazylmf-ai/Easy-e-Invoice-sub002")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/lazylmf-ai/Easy-e-Invoice-sub002")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.queue, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithHealthCheckInterval(config.HealthCheckInterval),
		worker.WithStaleClaimThreshold(config.StaleClaimThreshold),
	}

	if len(eng.limits) > 0 || len(eng.orgLimits) > 0 {
		eng.admission = queue.NewAdmission(eng.limits...)
		for _, l := range eng.orgLimits {
			eng.admission.SetOrgLimit(l)
		}
		poolOpts = append(poolOpts, worker.WithAdmission(eng.admission))
	}

	eng.pool = worker.NewPool(eng.queue, executor, logger, poolOpts...)

	// Wire back into the Service.
	svc.SetPool(eng.pool)
	svc.SetHooks(eng.hooks)

	// Maintenance scheduler enqueues through the engine so registered
	// processors validate schedule payloads like any other enqueue.
	enqueueFunc := func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, jobType, payload, opts...)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(st, enqueueFunc, eng.hooks, eng.pool.WorkerID(), logger)

	return eng, nil
}

// Register registers a typed processor with the engine.
func Register[T any](eng *Engine, p *job.Processor[T]) {
	job.RegisterProcessor(eng.registry, p)
}

// Enqueue marshals a typed payload and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	return eng.queue.Enqueue(ctx, jobType, payload, opts...)
}

// Cancel requests cancellation of a job.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID, reason cancel.Reason) error {
	return eng.queue.Cancel(ctx, jobID, reason)
}

// GetJob returns the current job record.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.queue.GetStatus(ctx, jobID)
}

// ListJobs returns jobs matching opts.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.queue.List(ctx, opts)
}

// Start begins job processing: the maintenance scheduler and the worker
// pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}
	return eng.svc.Start(ctx)
}

// Stop gracefully shuts down the engine: the scheduler stops firing, the
// pool drains, shutdown hooks run, and the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("maintenance scheduler stop error", slog.String("error", err.Error()))
	}
	return eng.svc.Stop(ctx)
}

// RegisterSchedule registers a typed maintenance schedule with the
// engine. It validates the cron expression, computes the initial
// NextRunAt, and persists the entry. Re-registration of the same name
// is idempotent.
func RegisterSchedule[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal schedule payload: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:    jobqueue.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		JobType:   def.JobType,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.store.RegisterCron(ctx, entry); err != nil {
		// Idempotent: ignore duplicate schedule entries.
		if errors.Is(err, jobqueue.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register schedule %q: %w", def.Name, err)
	}

	eng.logger.Info("schedule registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_type", def.JobType),
		slog.Time("next_run_at", next),
	)

	return nil
}

// Service returns the underlying Service.
func (eng *Engine) Service() *jobqueue.Service { return eng.svc }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Queue returns the orchestration queue.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Registry returns the processor registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Events returns the event bus for feed reads and subscriptions.
func (eng *Engine) Events() *event.Bus { return eng.bus }

// DLQ returns the dead-letter service for inspection and replay.
func (eng *Engine) DLQ() *dlq.Service { return eng.deadLetters }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the maintenance scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Admission returns the admission gate, or nil if no limits were
// configured.
func (eng *Engine) Admission() *queue.Admission { return eng.admission }
