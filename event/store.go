package event

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Store defines the persistence contract for lifecycle events.
type Store interface {
	// PublishEvent persists a new event and makes it available for
	// subscribers.
	PublishEvent(ctx context.Context, evt *Event) error

	// ListEventsByJob returns the events for a job in publication order.
	// Pass Nil afterID to start from the beginning; otherwise only events
	// published after that ID are returned. Used by polling clients.
	ListEventsByJob(ctx context.Context, jobID id.JobID, afterID id.EventID) ([]*Event, error)

	// SubscribeEvent waits for an unacked event of the given type.
	// Blocks until an event is available or the timeout expires.
	// Returns nil if no event arrives within the timeout.
	SubscribeEvent(ctx context.Context, eventType string, timeout time.Duration) (*Event, error)

	// AckEvent acknowledges an event, marking it as consumed.
	AckEvent(ctx context.Context, eventID id.EventID) error

	// PurgeEvents removes events published before the given time.
	// Returns the number of events removed.
	PurgeEvents(ctx context.Context, before time.Time) (int64, error)
}
