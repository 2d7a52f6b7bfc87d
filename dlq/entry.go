// Package dlq implements the dead-letter index: a queryable record of
// jobs that failed terminally, kept alongside the job records themselves
// so operators can inspect and replay them.
package dlq

import (
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Entry represents a job that reached failed and was indexed for
// inspection or replay. It carries a snapshot of the job's retry history
// so the failure can be diagnosed even after the job record is purged.
type Entry struct {
	ID           id.DLQID          `json:"id"`
	JobID        id.JobID          `json:"job_id"`
	JobType      string            `json:"job_type"`
	Payload      []byte            `json:"payload"`
	Error        string            `json:"error"`
	ErrorClass   string            `json:"error_class"`
	Attempts     int               `json:"attempts"`
	MaxRetries   int               `json:"max_retries"`
	RetryHistory []job.RetryRecord `json:"retry_history,omitempty"`
	AppID        string            `json:"app_id,omitempty"`
	OrgID        string            `json:"org_id,omitempty"`
	FailedAt     time.Time         `json:"failed_at"`
	ReplayedAt   *time.Time        `json:"replayed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
