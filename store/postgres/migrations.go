package postgres

import (
	"context"
	"errors"
	"fmt"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
)

// migration is one named schema change, applied at most once.
type migration struct {
	name string
	sql  string
}

// migrations run in slice order. Append only, never reorder or edit an
// applied entry.
var migrations = []migration{
	{
		name: "001_create_jobs_table",
		sql: `
			CREATE TABLE IF NOT EXISTS jobqueue_jobs (
				id               TEXT PRIMARY KEY,
				type             TEXT NOT NULL,
				payload          BYTEA NOT NULL,
				status           TEXT NOT NULL DEFAULT 'pending',
				priority         INTEGER NOT NULL DEFAULT 10,
				attempt          INTEGER NOT NULL DEFAULT 0,
				max_retries      INTEGER NOT NULL DEFAULT 3,
				retry_delay_base BIGINT NOT NULL DEFAULT 0,
				timeout          BIGINT NOT NULL DEFAULT 0,
				progress         JSONB NOT NULL DEFAULT '{}',
				result           JSONB,
				retry_history    JSONB NOT NULL DEFAULT '[]',
				cancellation     JSONB,
				last_error       TEXT NOT NULL DEFAULT '',
				claim_token      TEXT NOT NULL DEFAULT '',
				worker_id        TEXT NOT NULL DEFAULT '',
				app_id           TEXT NOT NULL DEFAULT '',
				org_id           TEXT NOT NULL DEFAULT '',
				not_before       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at       TIMESTAMPTZ,
				completed_at     TIMESTAMPTZ,
				touched_at       TIMESTAMPTZ,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "002_create_jobs_claim_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_jobs_claim
				ON jobqueue_jobs (priority DESC, not_before ASC, created_at ASC)
				WHERE status IN ('pending', 'retrying')`,
	},
	{
		name: "003_create_jobs_status_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_jobs_status
				ON jobqueue_jobs (status)`,
	},
	{
		name: "004_create_jobs_org_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_jobs_org
				ON jobqueue_jobs (org_id)`,
	},
	{
		name: "005_create_jobs_liveness_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_jobs_liveness
				ON jobqueue_jobs (touched_at)
				WHERE status = 'processing'`,
	},
	{
		name: "006_create_dlq_table",
		sql: `
			CREATE TABLE IF NOT EXISTS jobqueue_dlq (
				id            TEXT PRIMARY KEY,
				job_id        TEXT NOT NULL,
				job_type      TEXT NOT NULL,
				payload       BYTEA NOT NULL,
				error         TEXT NOT NULL,
				error_class   TEXT NOT NULL DEFAULT '',
				attempts      INTEGER NOT NULL DEFAULT 0,
				max_retries   INTEGER NOT NULL DEFAULT 3,
				retry_history JSONB NOT NULL DEFAULT '[]',
				app_id        TEXT NOT NULL DEFAULT '',
				org_id        TEXT NOT NULL DEFAULT '',
				failed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				replayed_at   TIMESTAMPTZ,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "007_create_dlq_failed_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_dlq_failed
				ON jobqueue_dlq (failed_at DESC)`,
	},
	{
		name: "008_create_events_table",
		sql: `
			CREATE TABLE IF NOT EXISTS jobqueue_events (
				id         TEXT PRIMARY KEY,
				job_id     TEXT NOT NULL,
				type       TEXT NOT NULL,
				payload    BYTEA,
				app_id     TEXT NOT NULL DEFAULT '',
				org_id     TEXT NOT NULL DEFAULT '',
				acked      BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "009_create_events_job_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_events_job
				ON jobqueue_events (job_id, id)`,
	},
	{
		name: "010_create_events_pending_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_events_pending
				ON jobqueue_events (type, created_at)
				WHERE acked = FALSE`,
	},
	{
		name: "011_create_cron_entries_table",
		sql: `
			CREATE TABLE IF NOT EXISTS jobqueue_cron_entries (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL UNIQUE,
				schedule     TEXT NOT NULL,
				job_type     TEXT NOT NULL,
				payload      BYTEA,
				app_id       TEXT NOT NULL DEFAULT '',
				org_id       TEXT NOT NULL DEFAULT '',
				last_run_at  TIMESTAMPTZ,
				next_run_at  TIMESTAMPTZ,
				locked_by    TEXT NOT NULL DEFAULT '',
				locked_until TIMESTAMPTZ,
				enabled      BOOLEAN NOT NULL DEFAULT TRUE,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "012_create_cron_due_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobqueue_cron_due
				ON jobqueue_cron_entries (next_run_at)
				WHERE enabled = TRUE`,
	},
	{
		name: "013_add_jobs_estimated_duration",
		sql: `
			ALTER TABLE jobqueue_jobs
				ADD COLUMN IF NOT EXISTS estimated_duration BIGINT NOT NULL DEFAULT 0`,
	},
}

// Migrate applies all pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobqueue_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return errors.Join(jobqueue.ErrMigrationFailed,
			fmt.Errorf("jobqueue/postgres: create migrations table: %w", err))
	}

	for _, m := range migrations {
		var applied bool
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM jobqueue_migrations WHERE name = $1)`,
			m.name,
		).Scan(&applied)
		if err != nil {
			return errors.Join(jobqueue.ErrMigrationFailed,
				fmt.Errorf("jobqueue/postgres: check migration %s: %w", m.name, err))
		}
		if applied {
			continue
		}

		if _, execErr := s.pool.Exec(ctx, m.sql); execErr != nil {
			return errors.Join(jobqueue.ErrMigrationFailed,
				fmt.Errorf("jobqueue/postgres: execute migration %s: %w", m.name, execErr))
		}

		if _, recErr := s.pool.Exec(ctx,
			`INSERT INTO jobqueue_migrations (name) VALUES ($1)`, m.name,
		); recErr != nil {
			return errors.Join(jobqueue.ErrMigrationFailed,
				fmt.Errorf("jobqueue/postgres: record migration %s: %w", m.name, recErr))
		}

		s.logger.Info("applied migration", "name", m.name)
	}

	return nil
}
