// Package audithook bridges job queue lifecycle events to an audit trail
// backend. The e-Invoice compliance requirements mandate a durable record
// of every bulk operation's lifecycle; this listener produces it without
// coupling the queue to any particular audit store.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/hook"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Compile-time interface checks.
var (
	_ hook.Listener     = (*Listener)(nil)
	_ hook.JobEnqueued  = (*Listener)(nil)
	_ hook.JobClaimed   = (*Listener)(nil)
	_ hook.JobCompleted = (*Listener)(nil)
	_ hook.JobFailed    = (*Listener)(nil)
	_ hook.JobRetrying  = (*Listener)(nil)
	_ hook.JobCancelled = (*Listener)(nil)
	_ hook.JobDLQ       = (*Listener)(nil)
	_ hook.CronFired    = (*Listener)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package does not import the audit store
// directly; callers inject the concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Listener bridges lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Listener struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Listener that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Listener {
	l := &Listener{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements hook.Listener.
func (l *Listener) Name() string { return "audit-hook" }

// OnJobEnqueued implements hook.JobEnqueued.
func (l *Listener) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return l.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_type", j.Type,
		"priority", int(j.Priority),
		"org_id", j.OrgID,
	)
}

// OnJobClaimed implements hook.JobClaimed.
func (l *Listener) OnJobClaimed(ctx context.Context, j *job.Job) error {
	return l.record(ctx, ActionJobClaimed, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_type", j.Type,
		"attempt", j.Attempt,
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobCompleted implements hook.JobCompleted.
func (l *Listener) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return l.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_type", j.Type,
		"attempts", j.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements hook.JobFailed.
func (l *Listener) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return l.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"job_type", j.Type,
		"attempts", j.Attempt,
		"max_retries", j.Config.MaxRetries,
	)
}

// OnJobRetrying implements hook.JobRetrying.
func (l *Listener) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return l.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_type", j.Type,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobCancelled implements hook.JobCancelled.
func (l *Listener) OnJobCancelled(ctx context.Context, j *job.Job, reason cancel.Reason, method cancel.Method) error {
	return l.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_type", j.Type,
		"reason", string(reason),
		"method", string(method),
	)
}

// OnJobDLQ implements hook.JobDLQ.
func (l *Listener) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return l.record(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"job_type", j.Type,
		"attempts", j.Attempt,
	)
}

// OnCronFired implements hook.CronFired.
func (l *Listener) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return l.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, nil,
		"job_id", jobID.String(),
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (l *Listener) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if l.enabled != nil && !l.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := l.recorder.Record(ctx, evt); recErr != nil {
		l.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
