package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/event"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// eventColumns is the canonical column list for jobqueue_events queries.
const eventColumns = `id, job_id, type, payload, app_id, org_id, acked, created_at`

// subscribePollInterval is the wait between subscription polls.
const subscribePollInterval = 50 * time.Millisecond

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobqueue_events (
			id, job_id, type, payload, app_id, org_id, acked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID.String(), evt.JobID.String(), evt.Type, evt.Payload,
		evt.AppID, evt.OrgID, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: publish event: %w", err)
	}
	return nil
}

// ListEventsByJob returns a job's events in publication order, optionally
// starting after a known event ID. Event IDs are K-sortable, so ID order
// is publication order.
func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, afterID id.EventID) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM jobqueue_events WHERE job_id = $1`
	args := []interface{}{jobID.String()}

	if !afterID.IsNil() {
		query += ` AND id > $2`
		args = append(args, afterID.String())
	}

	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobqueue/postgres: scan event row: %w", scanErr)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

// SubscribeEvent waits for an unacked event of the given type. Returns
// (nil, nil) on timeout. Poll-based; the partial index on unacked events
// keeps each poll cheap.
func (s *Store) SubscribeEvent(ctx context.Context, eventType string, timeout time.Duration) (*event.Event, error) {
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

		row := s.pool.QueryRow(ctx,
			`SELECT `+eventColumns+`
			FROM jobqueue_events
			WHERE type = $1 AND acked = FALSE
			ORDER BY created_at ASC
			LIMIT 1`,
			eventType,
		)

		evt, err := scanEvent(row)
		if err == nil {
			return evt, nil
		}
		if !isNoRows(err) {
			return nil, fmt.Errorf("jobqueue/postgres: subscribe event: %w", err)
		}

		wait := subscribePollInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobqueue_events SET acked = TRUE WHERE id = $1`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrEventNotFound
	}
	return nil
}

// PurgeEvents removes events published before the given time.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobqueue_events WHERE created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/postgres: purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEvent scans a single event row in eventColumns order.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt    event.Event
		idStr  string
		jobStr string
	)
	err := row.Scan(
		&idStr, &jobStr, &evt.Type, &evt.Payload,
		&evt.AppID, &evt.OrgID, &evt.Acked, &evt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseEventID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobqueue/postgres: parse event id %q: %w", idStr, parseErr)
	}
	evt.ID = parsedID

	if jobStr != "" {
		parsedJob, jobErr := id.ParseJobID(jobStr)
		if jobErr == nil {
			evt.JobID = parsedJob
		}
	}

	return &evt, nil
}
