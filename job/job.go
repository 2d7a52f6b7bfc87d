package job

import (
	"encoding/json"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker currently holds the job.
	StatusProcessing Status = "processing"
	// StatusRetrying means an attempt failed and the job is scheduled for
	// another attempt once NotBefore elapses.
	StatusRetrying Status = "retrying"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not be retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal sink. Terminal
// statuses are never overwritten.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Claimable reports whether a job in this status is eligible for claim.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusRetrying
}

// Priority determines claim order. Across tiers, higher strictly
// precedes lower regardless of enqueue time; within a tier jobs are
// claimed in enqueue order.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 10
	PriorityHigh     Priority = 20
	PriorityCritical Priority = 30
)

// Job type tags used by the surrounding e-Invoice application. The queue
// never branches on these; they exist so producers and processors agree
// on registry keys.
const (
	TypeBulkImport     = "bulk-import"
	TypeBulkExport     = "bulk-export"
	TypeBulkSubmission = "bulk-submission"
	TypeBulkValidation = "bulk-validation"
	TypeMaintenance    = "maintenance"
)

// Config holds the per-job execution settings fixed at enqueue time.
type Config struct {
	// MaxRetries is the number of retry attempts after the first failure.
	// A job is attempted at most MaxRetries+1 times.
	MaxRetries int `json:"max_retries"`

	// RetryDelayBase is the base delay fed into the retry strategy.
	RetryDelayBase time.Duration `json:"retry_delay_base"`

	// Timeout is the maximum duration one attempt may run before the
	// health check raises a synthetic timeout cancellation. Zero means
	// no timeout.
	Timeout time.Duration `json:"timeout"`
}

// Progress describes how far the current attempt has advanced. It is
// written only by the worker holding the job and Percent never decreases
// within one attempt. It is reset at the start of each attempt.
type Progress struct {
	Percent        int    `json:"percent"`
	Message        string `json:"message,omitempty"`
	ProcessedCount int64  `json:"processed_count"`
	TotalCount     int64  `json:"total_count"`
}

// Result is populated when a job reaches completed or failed, and on
// cooperative cancellation carries whatever partial result the processor
// accumulated.
type Result struct {
	Success    bool             `json:"success"`
	Data       json.RawMessage  `json:"data,omitempty"`
	Error      string           `json:"error,omitempty"`
	Statistics map[string]int64 `json:"statistics,omitempty"`
}

// RetryRecord is one append-only entry in a job's retry history.
type RetryRecord struct {
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CancelInfo records an accepted cancellation request. It is set once.
// Reason and Method hold the string forms of cancel.Reason and
// cancel.Method; plain strings keep this package free of upward imports.
type CancelInfo struct {
	Reason      string    `json:"reason"`
	Method      string    `json:"method"`
	RequestedAt time.Time `json:"requested_at"`
}

// Job represents one unit of asynchronous work.
type Job struct {
	jobqueue.Entity

	ID       id.JobID `json:"id"`
	Type     string   `json:"type"`
	Payload  []byte   `json:"payload"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
	Config   Config   `json:"config"`

	// Attempt counts execution attempts. It starts at 0 and is
	// incremented by the store when a worker claims the job.
	Attempt int `json:"attempt"`

	// EstimatedDuration is the processor's expected wall-clock time for
	// the whole job, recorded at enqueue time for display alongside
	// progress. Zero means the processor offered no estimate.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`

	Progress     Progress      `json:"progress"`
	Result       *Result       `json:"result,omitempty"`
	RetryHistory []RetryRecord `json:"retry_history,omitempty"`
	Cancellation *CancelInfo   `json:"cancellation,omitempty"`
	LastError    string        `json:"last_error,omitempty"`

	// ClaimToken is the ownership token issued at claim time. Progress
	// reports and terminal transitions must present the current token.
	// Cleared whenever the job leaves processing.
	ClaimToken string      `json:"claim_token,omitempty"`
	WorkerID   id.WorkerID `json:"worker_id,omitempty"`

	// Tenant identity captured from the enqueuing context.
	AppID string `json:"app_id,omitempty"`
	OrgID string `json:"org_id,omitempty"`

	// NotBefore is the earliest instant the job may be claimed. Set to
	// the enqueue time initially and pushed forward by retry backoff.
	NotBefore time.Time `json:"not_before"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// TouchedAt is the worker liveness mark, refreshed on the heartbeat
	// interval while the job is processing.
	TouchedAt *time.Time `json:"touched_at,omitempty"`
}
