package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// dlqColumns is the canonical column list for jobqueue_dlq queries.
const dlqColumns = `
	id, job_id, job_type, payload, error, error_class,
	attempts, max_retries, retry_history,
	app_id, org_id, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead-letter index.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	history, err := toJSONB(entry.RetryHistory)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode dlq retry history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobqueue_dlq (
			id, job_id, job_type, payload, error, error_class,
			attempts, max_retries, retry_history,
			app_id, org_id, failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		entry.ID.String(), entry.JobID.String(), entry.JobType,
		entry.Payload, entry.Error, entry.ErrorClass,
		entry.Attempts, entry.MaxRetries, history,
		entry.AppID, entry.OrgID, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns dead-letter entries matching the given options, most
// recently failed first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + dlqColumns + ` FROM jobqueue_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, opts.JobType)
		argIdx++
	}
	if opts.OrgID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, opts.OrgID)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobqueue/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+dlqColumns+` FROM jobqueue_dlq WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrDLQNotFound
		}
		return nil, fmt.Errorf("jobqueue/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a dead-letter entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobqueue_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes dead-letter entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobqueue_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of dead-letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobqueue_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single dead-letter row in dlqColumns order.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		idStr   string
		jobStr  string
		history []byte
	)
	err := row.Scan(
		&idStr, &jobStr, &e.JobType, &e.Payload, &e.Error, &e.ErrorClass,
		&e.Attempts, &e.MaxRetries, &history,
		&e.AppID, &e.OrgID, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobqueue/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	if jobStr != "" {
		parsedJob, jobErr := id.ParseJobID(jobStr)
		if jobErr == nil {
			e.JobID = parsedJob
		}
	}

	if err := fromJSONB(history, &e.RetryHistory); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: decode dlq retry history: %w", err)
	}

	return &e, nil
}
