// Package event provides the lifecycle event feed: every job status
// transition and progress report is published as a persisted event so the
// web layer can serve polling and streaming clients without touching the
// job store directly.
package event

import (
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Event types published by the emitter.
const (
	TypeJobEnqueued  = "job.enqueued"
	TypeJobClaimed   = "job.claimed"
	TypeJobProgress  = "job.progress"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobRetrying  = "job.retrying"
	TypeJobCancelled = "job.cancelled"
	TypeJobDLQ       = "job.dead-lettered"
)

// Event is one persisted lifecycle event. Payload is a JSON document whose
// shape depends on Type (progress snapshot, result summary, retry
// schedule, cancellation record).
type Event struct {
	ID        id.EventID `json:"id"`
	JobID     id.JobID   `json:"job_id"`
	Type      string     `json:"type"`
	Payload   []byte     `json:"payload,omitempty"`
	AppID     string     `json:"app_id,omitempty"`
	OrgID     string     `json:"org_id,omitempty"`
	Acked     bool       `json:"acked"`
	CreatedAt time.Time  `json:"created_at"`
}
