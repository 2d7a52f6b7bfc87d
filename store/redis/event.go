package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/event"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// PublishEvent persists a new event, appends it to the job's feed, and
// adds it to the type's stream for subscribers.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	eID := evt.ID.String()
	key := eventKey(eID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"id", eID,
		"job_id", evt.JobID.String(),
		"type", evt.Type,
		"payload", string(evt.Payload),
		"app_id", evt.AppID,
		"org_id", evt.OrgID,
		"acked", "0",
		"created_at", evt.CreatedAt.Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, eventIDsKey, eID)
	// Feed order is append order.
	pipe.RPush(ctx, jobEventsKey(evt.JobID.String()), eID)
	// Add to the typed stream so subscribers get notified.
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStreamKey(evt.Type),
		Values: map[string]interface{}{
			"event_id": eID,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: publish event: %w", err)
	}
	return nil
}

// ListEventsByJob returns a job's events in publication order, optionally
// starting after a known event ID.
func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, afterID id.EventID) ([]*event.Event, error) {
	ids, err := s.client.LRange(ctx, jobEventsKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: list events lrange: %w", err)
	}

	// Skip everything up to and including afterID.
	if !afterID.IsNil() {
		cut := afterID.String()
		for i, eID := range ids {
			if eID == cut {
				ids = ids[i+1:]
				break
			}
		}
	}

	events := make([]*event.Event, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, eventKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // purged
		}
		evt, convErr := mapToEvent(vals)
		if convErr != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// SubscribeEvent waits for an unacked event of the given type. Returns
// (nil, nil) on timeout.
func (s *Store) SubscribeEvent(ctx context.Context, eventType string, timeout time.Duration) (*event.Event, error) {
	stream := eventStreamKey(eventType)
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		// Read oldest messages from the stream.
		msgs, err := s.client.XRangeN(ctx, stream, "-", "+", 10).Result()
		if err != nil {
			return nil, fmt.Errorf("jobqueue/redis: subscribe xrange: %w", err)
		}

		for _, msg := range msgs {
			eID, ok := msg.Values["event_id"].(string)
			if !ok {
				continue
			}

			key := eventKey(eID)
			acked, getErr := s.client.HGet(ctx, key, "acked").Result()
			if getErr != nil {
				continue
			}
			if acked == "1" {
				continue // already consumed
			}

			vals, hErr := s.client.HGetAll(ctx, key).Result()
			if hErr != nil || len(vals) == 0 {
				continue
			}
			evt, convErr := mapToEvent(vals)
			if convErr != nil {
				continue
			}
			return evt, nil
		}

		// No unacked event found, wait a bit before retrying.
		blockTime := 50 * time.Millisecond
		if blockTime > remaining {
			blockTime = remaining
		}
		sleepCtx(ctx, blockTime)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	key := eventKey(eventID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: ack event exists: %w", err)
	}
	if exists == 0 {
		return jobqueue.ErrEventNotFound
	}

	_, err = s.client.HSet(ctx, key, "acked", "1").Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: ack event: %w", err)
	}
	return nil
}

// PurgeEvents removes events published before the given time. Job feed
// lists keep dangling IDs; ListEventsByJob skips hashes that are gone.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, eventIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue/redis: purge events smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := eventKey(eID)
		createdAtStr, getErr := s.client.HGet(ctx, key, "created_at").Result()
		if getErr != nil {
			if isRedisNil(getErr) {
				continue
			}
			return purged, fmt.Errorf("jobqueue/redis: purge events get: %w", getErr)
		}

		createdAt, _ := time.Parse(time.RFC3339Nano, createdAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if createdAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, eventIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("jobqueue/redis: purge events del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// sleepCtx sleeps for the given duration, or returns early if the context
// is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func mapToEvent(m map[string]string) (*event.Event, error) {
	eID, err := id.ParseEventID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: parse event id: %w", err)
	}

	jobID, _ := id.ParseJobID(m["job_id"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &event.Event{
		ID:        eID,
		JobID:     jobID,
		Type:      m["type"],
		Payload:   []byte(m["payload"]),
		AppID:     m["app_id"],
		OrgID:     m["org_id"],
		Acked:     m["acked"] == "1",
		CreatedAt: createdAt,
	}, nil
}
