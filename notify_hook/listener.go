// Package notifyhook bridges job queue lifecycle events to Relay for
// webhook delivery. Organizations subscribe to job events so their own
// systems learn about bulk import and submission outcomes without polling.
package notifyhook

import (
	"context"
	"time"

	"github.com/xraph/relay"
	"github.com/xraph/relay/event"

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

// Listener bridges lifecycle events to Relay. Each lifecycle hook emits a
// typed event via [relay.Relay.Send], addressed by the job's OrgID so
// delivery respects tenant subscriptions.
type Listener struct {
	relay    *relay.Relay
	enabled  map[string]bool        // nil = all enabled
	payloads map[string]PayloadFunc // custom payload builders
}

// New creates a Listener that emits lifecycle events through the
// provided Relay instance.
func New(r *relay.Relay, opts ...Option) *Listener {
	l := &Listener{relay: r}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements hook.Listener.
func (l *Listener) Name() string { return "notify-hook" }

// OnJobEnqueued implements hook.JobEnqueued.
func (l *Listener) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return l.send(ctx, EventJobEnqueued, j.OrgID, newJobPayload(j))
}

// OnJobClaimed implements hook.JobClaimed.
func (l *Listener) OnJobClaimed(ctx context.Context, j *job.Job) error {
	return l.send(ctx, EventJobClaimed, j.OrgID, &jobClaimedPayload{
		jobPayload: *newJobPayload(j),
		Attempt:    j.Attempt,
	})
}

// OnJobCompleted implements hook.JobCompleted.
func (l *Listener) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	p := &jobCompletedPayload{
		jobPayload: *newJobPayload(j),
		ElapsedMs:  elapsed.Milliseconds(),
	}
	if j.Result != nil {
		p.Statistics = j.Result.Statistics
	}
	return l.send(ctx, EventJobCompleted, j.OrgID, p)
}

// OnJobFailed implements hook.JobFailed.
func (l *Listener) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return l.send(ctx, EventJobFailed, j.OrgID, &jobFailedPayload{
		jobPayload: *newJobPayload(j),
		Error:      jobErr.Error(),
		Attempts:   j.Attempt,
	})
}

// OnJobRetrying implements hook.JobRetrying.
func (l *Listener) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return l.send(ctx, EventJobRetrying, j.OrgID, &jobRetryingPayload{
		jobPayload: *newJobPayload(j),
		Attempt:    attempt,
		NextRunAt:  nextRunAt.Format(time.RFC3339),
	})
}

// OnJobCancelled implements hook.JobCancelled.
func (l *Listener) OnJobCancelled(ctx context.Context, j *job.Job, reason cancel.Reason, method cancel.Method) error {
	return l.send(ctx, EventJobCancelled, j.OrgID, &jobCancelledPayload{
		jobPayload: *newJobPayload(j),
		Reason:     string(reason),
		Method:     string(method),
	})
}

// OnJobDLQ implements hook.JobDLQ.
func (l *Listener) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return l.send(ctx, EventJobDLQ, j.OrgID, &jobFailedPayload{
		jobPayload: *newJobPayload(j),
		Error:      jobErr.Error(),
		Attempts:   j.Attempt,
	})
}

// OnCronFired implements hook.CronFired.
func (l *Listener) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return l.send(ctx, EventCronFired, "", &cronPayload{
		EntryName: entryName,
		JobID:     jobID.String(),
	})
}

// send emits an event through Relay if the event type is enabled.
func (l *Listener) send(ctx context.Context, eventType, tenantID string, defaultData any) error {
	if l.enabled != nil && !l.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := l.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	return l.relay.Send(ctx, &event.Event{
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}

type jobPayload struct {
	JobID    string `json:"job_id"`
	JobType  string `json:"job_type"`
	Priority int    `json:"priority"`
	AppID    string `json:"app_id,omitempty"`
	OrgID    string `json:"org_id,omitempty"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:    j.ID.String(),
		JobType:  j.Type,
		Priority: int(j.Priority),
		AppID:    j.AppID,
		OrgID:    j.OrgID,
	}
}

type jobClaimedPayload struct {
	jobPayload
	Attempt int `json:"attempt"`
}

type jobCompletedPayload struct {
	jobPayload
	ElapsedMs  int64            `json:"elapsed_ms"`
	Statistics map[string]int64 `json:"statistics,omitempty"`
}

type jobFailedPayload struct {
	jobPayload
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

type jobRetryingPayload struct {
	jobPayload
	Attempt   int    `json:"attempt"`
	NextRunAt string `json:"next_run_at"`
}

type jobCancelledPayload struct {
	jobPayload
	Reason string `json:"reason"`
	Method string `json:"method"`
}

type cronPayload struct {
	EntryName string `json:"entry_name"`
	JobID     string `json:"job_id"`
}
