// Package cron runs the maintenance schedule: recurring entries that
// enqueue housekeeping jobs (terminal job retention, event feed pruning,
// dead-letter purges) on cron expressions. Per-entry store locks keep an
// entry from double-firing when several instances run the scheduler.
package cron

import (
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Entry represents one scheduled maintenance job.
type Entry struct {
	jobqueue.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	JobType     string     `json:"job_type"`
	Payload     []byte     `json:"payload,omitempty"`
	AppID       string     `json:"app_id,omitempty"`
	OrgID       string     `json:"org_id,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}
