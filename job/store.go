package job

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// ListOpts filters and paginates job listings.
type ListOpts struct {
	Status   Status
	Type     string
	OrgID    string
	Limit    int
	Offset   int
	Statuses []Status
}

// CountOpts filters job counts.
type CountOpts struct {
	Status Status
	Type   string
	OrgID  string
}

// Store is the persistence interface for jobs. Implementations must be
// safe for concurrent use.
//
// ClaimNextJob is the single linearizable contention point of the whole
// queue: it must atomically select the highest-priority claimable job
// whose NotBefore has elapsed (FIFO within a priority tier), move it to
// processing, increment Attempt, reset Progress, and stamp the worker
// and claim token. Under a lost race it returns
// jobqueue.ErrClaimContention so the caller can retry selection.
type Store interface {
	// CreateJob persists a new job. Returns jobqueue.ErrJobAlreadyExists
	// if the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimNextJob atomically claims the next eligible job for workerID
	// using token as the ownership claim token. Returns (nil, nil) when
	// no job is eligible.
	ClaimNextJob(ctx context.Context, workerID id.WorkerID, token string) (*Job, error)

	// GetJob returns the job with the given ID, or jobqueue.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists the given job state. Implementations must reject
	// writes that would overwrite a terminal status with
	// jobqueue.ErrTerminal, except writes that set the same terminal
	// status (idempotent finalization).
	UpdateJob(ctx context.Context, j *Job) error

	// FinalizeJob persists a transition out of processing: to retrying,
	// completed, failed, or cancelled. The write applies only when token
	// matches the job's current claim token; otherwise
	// jobqueue.ErrNotOwner is returned and the stored job is untouched.
	// If the job is already terminal, setting the same terminal status is
	// a no-op and anything else returns jobqueue.ErrTerminal. Late
	// callbacks from timed-out or force-cancelled attempts are discarded
	// by these two guards.
	FinalizeJob(ctx context.Context, j *Job, token string) error

	// CancelWaiting atomically finalizes a pending or retrying job as
	// cancelled, stamping info and CompletedAt, and returns the resulting
	// record. The transition is status-guarded at the store: if the job
	// was claimed (or finished) between the caller's read and this write,
	// jobqueue.ErrInvalidTransition is returned and nothing changes.
	CancelWaiting(ctx context.Context, jobID id.JobID, info *CancelInfo) (*Job, error)

	// SaveProgress records a progress report for the attempt identified
	// by token. It returns jobqueue.ErrNotOwner when the token is stale,
	// jobqueue.ErrTerminal when the job has already finished, and clamps
	// Percent so it never decreases within the attempt.
	SaveProgress(ctx context.Context, jobID id.JobID, token string, p Progress) error

	// TouchJob refreshes the liveness mark on a processing job. Stale
	// tokens return jobqueue.ErrNotOwner.
	TouchJob(ctx context.Context, jobID id.JobID, token string, at time.Time) error

	// StaleJobs returns processing jobs whose liveness mark is older than
	// the threshold, meaning their worker likely died without releasing
	// the claim.
	StaleJobs(ctx context.Context, olderThan time.Time) ([]*Job, error)

	// ListJobs returns jobs matching opts, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// DeleteJob removes a job permanently. Used by retention maintenance.
	DeleteJob(ctx context.Context, jobID id.JobID) error
}
