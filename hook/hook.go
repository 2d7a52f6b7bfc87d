// Package hook defines the listener system for the job queue.
// Listeners are notified of lifecycle events (job enqueued, claimed,
// completed, cancelled, etc.) and can react to them: audit trails,
// notifications, metrics, tracing.
//
// Each lifecycle hook is a separate interface so listeners opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Listener is the base interface all listeners must implement.
type Listener interface {
	// Name returns a unique human-readable name for the listener.
	Name() string
}

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when a worker claims a job and begins an attempt.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a processor reports progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, p job.Progress) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when an attempt fails but the job is scheduled
// for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobCancelled is called when a job reaches cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job, reason cancel.Reason, method cancel.Method) error
}

// JobDLQ is called when a failed job is indexed in the dead-letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// CronFired is called when a maintenance schedule entry fires and
// enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
