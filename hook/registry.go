package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Named entry types pair a hook implementation with the listener name
// captured at registration time. This avoids type-asserting back to
// Listener inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobClaimedEntry struct {
	name string
	hook JobClaimed
}

type jobProgressEntry struct {
	name string
	hook JobProgress
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type jobDLQEntry struct {
	name string
	hook JobDLQ
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered listeners and fans lifecycle events out to
// them. It type-caches listeners at registration time so emit calls
// iterate only over listeners that implement the relevant hook.
type Registry struct {
	listeners []Listener
	logger    *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued  []jobEnqueuedEntry
	jobClaimed   []jobClaimedEntry
	jobProgress  []jobProgressEntry
	jobCompleted []jobCompletedEntry
	jobFailed    []jobFailedEntry
	jobRetrying  []jobRetryingEntry
	jobCancelled []jobCancelledEntry
	jobDLQ       []jobDLQEntry
	cronFired    []cronFiredEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates a listener registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a listener and type-asserts it into all applicable hook
// caches. Listeners are notified in registration order.
func (r *Registry) Register(l Listener) {
	r.listeners = append(r.listeners, l)
	name := l.Name()

	if h, ok := l.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := l.(JobClaimed); ok {
		r.jobClaimed = append(r.jobClaimed, jobClaimedEntry{name, h})
	}
	if h, ok := l.(JobProgress); ok {
		r.jobProgress = append(r.jobProgress, jobProgressEntry{name, h})
	}
	if h, ok := l.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := l.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := l.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := l.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := l.(JobDLQ); ok {
		r.jobDLQ = append(r.jobDLQ, jobDLQEntry{name, h})
	}
	if h, ok := l.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := l.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Listeners returns all registered listeners.
func (r *Registry) Listeners() []Listener { return r.listeners }

// EmitJobEnqueued notifies all listeners that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobClaimed notifies all listeners that implement JobClaimed.
func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobClaimed {
		if err := e.hook.OnJobClaimed(ctx, j); err != nil {
			r.logHookError("OnJobClaimed", e.name, err)
		}
	}
}

// EmitJobProgress notifies all listeners that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, p job.Progress) {
	for _, e := range r.jobProgress {
		if err := e.hook.OnJobProgress(ctx, j, p); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all listeners that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all listeners that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all listeners that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all listeners that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job, reason cancel.Reason, method cancel.Method) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j, reason, method); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitJobDLQ notifies all listeners that implement JobDLQ.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDLQ {
		if err := e.hook.OnJobDLQ(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDLQ", e.name, err)
		}
	}
}

// EmitCronFired notifies all listeners that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, jobID id.JobID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, jobID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all listeners that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hookName, listenerName string, err error) {
	r.logger.Warn("listener hook error",
		slog.String("hook", hookName),
		slog.String("listener", listenerName),
		slog.String("error", err.Error()),
	)
}
