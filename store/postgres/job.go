package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// jobColumns is the canonical column list for jobqueue_jobs queries.
const jobColumns = `
	id, type, payload, status, priority, attempt,
	max_retries, retry_delay_base, timeout, estimated_duration,
	progress, result, retry_history, cancellation, last_error,
	claim_token, worker_id, app_id, org_id,
	not_before, started_at, completed_at, touched_at,
	created_at, updated_at`

// CreateJob persists a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	progress, err := toJSONB(j.Progress)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode progress: %w", err)
	}
	history, err := toJSONB(j.RetryHistory)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode retry history: %w", err)
	}
	result, err := resultJSONB(j)
	if err != nil {
		return err
	}
	cancellation, err := cancellationJSONB(j)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobqueue_jobs (
			id, type, payload, status, priority, attempt,
			max_retries, retry_delay_base, timeout, estimated_duration,
			progress, result, retry_history, cancellation, last_error,
			claim_token, worker_id, app_id, org_id,
			not_before, started_at, completed_at, touched_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23,
			$24, $25
		)`,
		j.ID.String(), j.Type, j.Payload, string(j.Status), int(j.Priority), j.Attempt,
		j.Config.MaxRetries, j.Config.RetryDelayBase.Nanoseconds(), j.Config.Timeout.Nanoseconds(), j.EstimatedDuration.Nanoseconds(),
		progress, result, history, cancellation, j.LastError,
		j.ClaimToken, j.WorkerID.String(), j.AppID, j.OrgID,
		j.NotBefore, j.StartedAt, j.CompletedAt, j.TouchedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobqueue/postgres: create job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the next eligible job: highest priority
// tier first, earliest NotBefore then enqueue order within a tier. Uses
// SELECT FOR UPDATE SKIP LOCKED, so concurrent claimers never collide;
// they simply skip to the next row.
func (s *Store) ClaimNextJob(ctx context.Context, workerID id.WorkerID, token string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'processing',
			attempt = attempt + 1,
			claim_token = $1,
			worker_id = $2,
			started_at = NOW(),
			touched_at = NOW(),
			updated_at = NOW(),
			progress = jsonb_build_object(
				'percent', 0,
				'processed_count', 0,
				'total_count', COALESCE((progress->>'total_count')::bigint, 0)
			)
		WHERE id = (
			SELECT id FROM jobqueue_jobs
			WHERE status IN ('pending', 'retrying')
			  AND not_before <= NOW()
			ORDER BY priority DESC, not_before ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		token, workerID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobqueue/postgres: claim job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM jobqueue_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobqueue/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job. Terminal statuses are
// never overwritten except idempotently with the same status.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	progress, err := toJSONB(j.Progress)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode progress: %w", err)
	}
	history, err := toJSONB(j.RetryHistory)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode retry history: %w", err)
	}
	result, err := resultJSONB(j)
	if err != nil {
		return err
	}
	cancellation, err := cancellationJSONB(j)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			type = $2, payload = $3, status = $4, priority = $5, attempt = $6,
			max_retries = $7, retry_delay_base = $8, timeout = $9,
			progress = $10, result = $11, retry_history = $12,
			cancellation = $13, last_error = $14,
			claim_token = $15, worker_id = $16,
			not_before = $17, started_at = $18, completed_at = $19, touched_at = $20,
			updated_at = NOW()
		WHERE id = $1
		  AND (status NOT IN ('completed', 'failed', 'cancelled') OR status = $4)`,
		j.ID.String(), j.Type, j.Payload, string(j.Status), int(j.Priority), j.Attempt,
		j.Config.MaxRetries, j.Config.RetryDelayBase.Nanoseconds(), j.Config.Timeout.Nanoseconds(),
		progress, result, history,
		cancellation, j.LastError,
		j.ClaimToken, j.WorkerID.String(),
		j.NotBefore, j.StartedAt, j.CompletedAt, j.TouchedAt,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.diagnoseWriteMiss(ctx, j.ID, string(j.Status), "")
	}
	return nil
}

// FinalizeJob persists a transition out of processing, guarded by the
// claim token.
func (s *Store) FinalizeJob(ctx context.Context, j *job.Job, token string) error {
	progress, err := toJSONB(j.Progress)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode progress: %w", err)
	}
	history, err := toJSONB(j.RetryHistory)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode retry history: %w", err)
	}
	result, err := resultJSONB(j)
	if err != nil {
		return err
	}
	cancellation, err := cancellationJSONB(j)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			status = $3, attempt = $4,
			progress = $5, result = $6, retry_history = $7,
			cancellation = $8, last_error = $9,
			claim_token = $10, worker_id = $11,
			not_before = $12, completed_at = $13, touched_at = $14,
			updated_at = NOW()
		WHERE id = $1
		  AND claim_token = $2
		  AND status NOT IN ('completed', 'failed', 'cancelled')`,
		j.ID.String(), token, string(j.Status), j.Attempt,
		progress, result, history,
		cancellation, j.LastError,
		j.ClaimToken, j.WorkerID.String(),
		j.NotBefore, j.CompletedAt, j.TouchedAt,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.diagnoseWriteMiss(ctx, j.ID, string(j.Status), token)
	}
	return nil
}

// CancelWaiting finalizes a pending or retrying job as cancelled. The
// status guard lives in the UPDATE predicate, so a claim that slipped in
// between the caller's read and this write makes it a clean no-op.
func (s *Store) CancelWaiting(ctx context.Context, jobID id.JobID, info *job.CancelInfo) (*job.Job, error) {
	encoded, err := toJSONB(info)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: encode cancellation: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'cancelled',
			cancellation = $2,
			completed_at = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'retrying')
		RETURNING`+jobColumns,
		jobID.String(), encoded, info.RequestedAt,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			var exists bool
			if chkErr := s.pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM jobqueue_jobs WHERE id = $1)`,
				jobID.String(),
			).Scan(&exists); chkErr != nil {
				return nil, fmt.Errorf("jobqueue/postgres: cancel check: %w", chkErr)
			}
			if !exists {
				return nil, jobqueue.ErrJobNotFound
			}
			return nil, jobqueue.ErrInvalidTransition
		}
		return nil, fmt.Errorf("jobqueue/postgres: cancel waiting job: %w", err)
	}
	return j, nil
}

// SaveProgress records a progress report under the claim token. Percent
// never decreases within the attempt.
func (s *Store) SaveProgress(ctx context.Context, jobID id.JobID, token string, p job.Progress) error {
	encoded, err := toJSONB(p)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: encode progress: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			progress = jsonb_set(
				$3::jsonb, '{percent}',
				to_jsonb(GREATEST(
					COALESCE((progress->>'percent')::int, 0),
					COALESCE(($3::jsonb->>'percent')::int, 0)
				))
			),
			updated_at = NOW()
		WHERE id = $1
		  AND claim_token = $2
		  AND status NOT IN ('completed', 'failed', 'cancelled')`,
		jobID.String(), token, encoded,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: save progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.diagnoseWriteMiss(ctx, jobID, "", token)
	}
	return nil
}

// TouchJob refreshes the liveness mark on a processing job.
func (s *Store) TouchJob(ctx context.Context, jobID id.JobID, token string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobqueue_jobs SET touched_at = $3 WHERE id = $1 AND claim_token = $2`,
		jobID.String(), token, at,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: touch job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if chkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM jobqueue_jobs WHERE id = $1)`,
			jobID.String(),
		).Scan(&exists); chkErr != nil {
			return fmt.Errorf("jobqueue/postgres: touch check: %w", chkErr)
		}
		if !exists {
			return jobqueue.ErrJobNotFound
		}
		return jobqueue.ErrNotOwner
	}
	return nil
}

// StaleJobs returns processing jobs whose liveness mark is older than
// the cutoff.
func (s *Store) StaleJobs(ctx context.Context, olderThan time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+jobColumns+`
		FROM jobqueue_jobs
		WHERE status = 'processing'
		  AND COALESCE(touched_at, started_at) < $1`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobqueue_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}
	if opts.OrgID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, opts.OrgID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("jobqueue/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM jobqueue_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}
	if opts.OrgID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, opts.OrgID)
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/postgres: count jobs: %w", err)
	}
	return count, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobqueue_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrJobNotFound
	}
	return nil
}

// diagnoseWriteMiss turns a zero-row guarded update into the sentinel the
// caller expects: not found, terminal conflict, or lost ownership.
func (s *Store) diagnoseWriteMiss(ctx context.Context, jobID id.JobID, wantStatus, token string) error {
	var status, currentToken string
	err := s.pool.QueryRow(ctx,
		`SELECT status, claim_token FROM jobqueue_jobs WHERE id = $1`,
		jobID.String(),
	).Scan(&status, &currentToken)
	if err != nil {
		if isNoRows(err) {
			return jobqueue.ErrJobNotFound
		}
		return fmt.Errorf("jobqueue/postgres: diagnose write miss: %w", err)
	}

	if job.Status(status).Terminal() {
		if wantStatus == status {
			return nil // idempotent finalization
		}
		return jobqueue.ErrTerminal
	}
	if token != "" && currentToken != token {
		return jobqueue.ErrNotOwner
	}
	return jobqueue.ErrInvalidTransition
}

// ── row mapping ──

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                job.Job
		idStr            string
		statusStr        string
		priority         int
		retryDelayBaseNs int64
		timeoutNs        int64
		estimatedNs      int64
		workerStr        string
		progress         []byte
		result           []byte
		history          []byte
		cancellation     []byte
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &statusStr, &priority, &j.Attempt,
		&j.Config.MaxRetries, &retryDelayBaseNs, &timeoutNs, &estimatedNs,
		&progress, &result, &history, &cancellation, &j.LastError,
		&j.ClaimToken, &workerStr, &j.AppID, &j.OrgID,
		&j.NotBefore, &j.StartedAt, &j.CompletedAt, &j.TouchedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.Priority = job.Priority(priority)
	j.Config.RetryDelayBase = time.Duration(retryDelayBaseNs)
	j.Config.Timeout = time.Duration(timeoutNs)
	j.EstimatedDuration = time.Duration(estimatedNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobqueue/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	if err := fromJSONB(progress, &j.Progress); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: decode progress: %w", err)
	}
	if len(result) > 0 {
		var r job.Result
		if err := fromJSONB(result, &r); err != nil {
			return nil, fmt.Errorf("jobqueue/postgres: decode result: %w", err)
		}
		j.Result = &r
	}
	if err := fromJSONB(history, &j.RetryHistory); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: decode retry history: %w", err)
	}
	if len(cancellation) > 0 {
		var c job.CancelInfo
		if err := fromJSONB(cancellation, &c); err != nil {
			return nil, fmt.Errorf("jobqueue/postgres: decode cancellation: %w", err)
		}
		j.Cancellation = &c
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobqueue/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func resultJSONB(j *job.Job) ([]byte, error) {
	if j.Result == nil {
		return nil, nil
	}
	b, err := toJSONB(j.Result)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: encode result: %w", err)
	}
	return b, nil
}

func cancellationJSONB(j *job.Job) ([]byte, error) {
	if j.Cancellation == nil {
		return nil, nil
	}
	b, err := toJSONB(j.Cancellation)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: encode cancellation: %w", err)
	}
	return b, nil
}
