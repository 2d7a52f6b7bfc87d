package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cron"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// cronColumns is the canonical column list for jobqueue_cron_entries queries.
const cronColumns = `
	id, name, schedule, job_type, payload, app_id, org_id,
	last_run_at, next_run_at, locked_by, locked_until, enabled,
	created_at, updated_at`

// RegisterCron persists a new schedule entry. Names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobqueue_cron_entries (
			id, name, schedule, job_type, payload, app_id, org_id,
			last_run_at, next_run_at, locked_by, locked_until, enabled,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14
		)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.JobType,
		entry.Payload, entry.AppID, entry.OrgID,
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobqueue.ErrDuplicateCron
		}
		return fmt.Errorf("jobqueue/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a schedule entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+cronColumns+` FROM jobqueue_cron_entries WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrCronNotFound
		}
		return nil, fmt.Errorf("jobqueue/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all schedule entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+cronColumns+` FROM jobqueue_cron_entries ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobqueue/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the firing lock for an entry. The
// guarded UPDATE is the atomic gate: only one caller can flip an expired
// or free lock.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_cron_entries SET
			locked_by = $2,
			locked_until = NOW() + $3::interval,
			updated_at = NOW()
		WHERE id = $1
		  AND (locked_by = '' OR locked_by = $2
		       OR locked_until IS NULL OR locked_until <= NOW())`,
		entryID.String(), workerID.String(), ttl.String(),
	)
	if err != nil {
		return false, fmt.Errorf("jobqueue/postgres: acquire cron lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if chkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM jobqueue_cron_entries WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists); chkErr != nil {
			return false, fmt.Errorf("jobqueue/postgres: acquire cron lock check: %w", chkErr)
		}
		if !exists {
			return false, jobqueue.ErrCronNotFound
		}
		return false, nil // lock held by another instance
	}
	return true, nil
}

// ReleaseCronLock releases the firing lock for an entry. Releasing a lock
// held by someone else is a no-op.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_cron_entries SET
			locked_by = '',
			locked_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a schedule entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobqueue_cron_entries SET last_run_at = $2, updated_at = NOW() WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a schedule entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_cron_entries SET
			name = $2, schedule = $3, job_type = $4, payload = $5,
			app_id = $6, org_id = $7,
			last_run_at = $8, next_run_at = $9,
			locked_by = $10, locked_until = $11, enabled = $12,
			updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.JobType, entry.Payload,
		entry.AppID, entry.OrgID,
		entry.LastRunAt, entry.NextRunAt,
		entry.LockedBy, entry.LockedUntil, entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a schedule entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobqueue_cron_entries WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single schedule entry row in cronColumns order.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e     cron.Entry
		idStr string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.JobType, &e.Payload, &e.AppID, &e.OrgID,
		&e.LastRunAt, &e.NextRunAt, &e.LockedBy, &e.LockedUntil, &e.Enabled,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobqueue/postgres: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}
