package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Emitter is a lifecycle listener that turns hook notifications into
// persisted events on the bus. Register it with the hook registry.
type Emitter struct {
	bus    *Bus
	logger *slog.Logger
}

// NewEmitter creates an emitter publishing to the given bus.
func NewEmitter(bus *Bus, logger *slog.Logger) *Emitter {
	return &Emitter{bus: bus, logger: logger}
}

// Name implements hook.Listener.
func (e *Emitter) Name() string { return "event-emitter" }

func (e *Emitter) publish(ctx context.Context, j *job.Job, eventType string, payload any) error {
	var raw []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	_, err := e.bus.Publish(ctx, j.ID, eventType, raw, j.AppID, j.OrgID)
	return err
}

// OnJobEnqueued publishes a job.enqueued event.
func (e *Emitter) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.publish(ctx, j, TypeJobEnqueued, map[string]any{
		"type":     j.Type,
		"priority": j.Priority,
	})
}

// OnJobClaimed publishes a job.claimed event.
func (e *Emitter) OnJobClaimed(ctx context.Context, j *job.Job) error {
	return e.publish(ctx, j, TypeJobClaimed, map[string]any{
		"attempt":   j.Attempt,
		"worker_id": j.WorkerID.String(),
	})
}

// OnJobProgress publishes a job.progress event with the progress snapshot.
func (e *Emitter) OnJobProgress(ctx context.Context, j *job.Job, p job.Progress) error {
	return e.publish(ctx, j, TypeJobProgress, p)
}

// OnJobCompleted publishes a job.completed event with a result summary.
func (e *Emitter) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	payload := map[string]any{
		"attempts":   j.Attempt,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if j.Result != nil {
		payload["statistics"] = j.Result.Statistics
	}
	return e.publish(ctx, j, TypeJobCompleted, payload)
}

// OnJobFailed publishes a job.failed event.
func (e *Emitter) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.publish(ctx, j, TypeJobFailed, map[string]any{
		"attempts": j.Attempt,
		"error":    jobErr.Error(),
	})
}

// OnJobRetrying publishes a job.retrying event with the schedule.
func (e *Emitter) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.publish(ctx, j, TypeJobRetrying, map[string]any{
		"attempt":     attempt,
		"next_run_at": nextRunAt,
		"error":       j.LastError,
	})
}

// OnJobCancelled publishes a job.cancelled event.
func (e *Emitter) OnJobCancelled(ctx context.Context, j *job.Job, reason cancel.Reason, method cancel.Method) error {
	return e.publish(ctx, j, TypeJobCancelled, map[string]any{
		"reason": reason,
		"method": method,
	})
}

// OnJobDLQ publishes a job.dead-lettered event.
func (e *Emitter) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.publish(ctx, j, TypeJobDLQ, map[string]any{
		"attempts": j.Attempt,
		"error":    jobErr.Error(),
	})
}
