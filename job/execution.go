package job

import (
	"context"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Execution is the handle a processor receives for one attempt. It exposes
// a read-only snapshot of the job plus the progress and cancellation
// surfaces. Processors must not retain it past the attempt.
type Execution struct {
	// Job is a snapshot taken at claim time. Mutating it has no effect
	// on stored state.
	Job Job

	report    func(ctx context.Context, p Progress) error
	cancelled func() bool
}

// NewExecution builds an execution handle. Called by the worker executor;
// report persists a progress update under the attempt's claim token and
// cancelled reflects the cancellation coordinator's signal for this job.
func NewExecution(snapshot Job, report func(ctx context.Context, p Progress) error, cancelled func() bool) *Execution {
	return &Execution{Job: snapshot, report: report, cancelled: cancelled}
}

// ID returns the job's identifier.
func (e *Execution) ID() id.JobID { return e.Job.ID }

// Attempt returns the 1-based attempt number of this execution.
func (e *Execution) Attempt() int { return e.Job.Attempt }

// Report persists a progress update. Percent is clamped so it never
// decreases within the attempt; reports after the job reached a terminal
// status are rejected.
func (e *Execution) Report(ctx context.Context, p Progress) error {
	if e.report == nil {
		return nil
	}
	return e.report(ctx, p)
}

// Cancelled reports whether cancellation has been requested for this job.
// Processors handling long loops should check it at safe checkpoints and
// return cancel.ErrCancelled to exit cooperatively.
func (e *Execution) Cancelled() bool {
	if e.cancelled == nil {
		return false
	}
	return e.cancelled()
}
