package event

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Bus provides high-level publish/subscribe operations over an event
// Store. The emitter publishes through it; the web layer reads job feeds
// and blocks on Subscribe for streaming delivery.
type Bus struct {
	store Store
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish creates and persists a new event.
func (b *Bus) Publish(ctx context.Context, jobID id.JobID, eventType string, payload []byte, appID, orgID string) (*Event, error) {
	evt := &Event{
		ID:        id.NewEventID(),
		JobID:     jobID,
		Type:      eventType,
		Payload:   payload,
		AppID:     appID,
		OrgID:     orgID,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Feed returns the events for a job published after afterID, in order.
// Pass Nil to read from the beginning.
func (b *Bus) Feed(ctx context.Context, jobID id.JobID, afterID id.EventID) ([]*Event, error) {
	return b.store.ListEventsByJob(ctx, jobID, afterID)
}

// Subscribe waits for an unacked event of the given type.
// Blocks until available or timeout. Returns nil on timeout.
func (b *Bus) Subscribe(ctx context.Context, eventType string, timeout time.Duration) (*Event, error) {
	return b.store.SubscribeEvent(ctx, eventType, timeout)
}

// Ack acknowledges an event, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }
