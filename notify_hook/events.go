package notifyhook

import (
	"context"

	"github.com/xraph/relay"
	"github.com/xraph/relay/catalog"
)

// Lifecycle event types. Each constant maps to one hook interface and is
// used as the event.Event.Type when sending via Relay.
const (
	EventJobEnqueued  = "jobqueue.job.enqueued"
	EventJobClaimed   = "jobqueue.job.claimed"
	EventJobCompleted = "jobqueue.job.completed"
	EventJobFailed    = "jobqueue.job.failed"
	EventJobRetrying  = "jobqueue.job.retrying"
	EventJobCancelled = "jobqueue.job.cancelled"
	EventJobDLQ       = "jobqueue.job.dlq"
	EventCronFired    = "jobqueue.cron.fired"
)

// AllDefinitions returns webhook definitions for all lifecycle event
// types. Pass these to relay.RegisterEventType to populate the catalog.
func AllDefinitions() []catalog.WebhookDefinition {
	return []catalog.WebhookDefinition{
		{
			Name:        EventJobEnqueued,
			Description: "Fired when a bulk job is enqueued for processing.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventJobClaimed,
			Description: "Fired when a worker claims a job and begins an attempt.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventJobCompleted,
			Description: "Fired when a job finishes successfully.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventJobFailed,
			Description: "Fired when a job fails terminally with no more retries.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventJobRetrying,
			Description: "Fired when an attempt fails but the job is scheduled for retry.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventJobCancelled,
			Description: "Fired when a job is cancelled.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventJobDLQ,
			Description: "Fired when a failed job is indexed in the dead-letter queue.",
			Group:       "jobs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventCronFired,
			Description: "Fired when a maintenance schedule entry enqueues a job.",
			Group:       "cron",
			Version:     "2026-01-01",
		},
	}
}

// RegisterAll registers all webhook event types in the Relay catalog.
// Call this once during application startup before sending events.
func RegisterAll(ctx context.Context, r *relay.Relay) error {
	for _, def := range AllDefinitions() {
		if _, err := r.RegisterEventType(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
