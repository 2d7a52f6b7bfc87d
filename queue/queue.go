// Package queue implements the orchestration layer of the job core: it
// owns enqueue validation, claim arbitration, progress writes, the
// retry-versus-fail decision, cancellation flow, and admission limits.
// Everything the worker pool does to a job goes through a Queue.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/hook"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/scope"
)

// claimRetries bounds how many times a claim is re-attempted when the
// store reports contention before the caller is told there is no work.
const claimRetries = 3

// Queue coordinates job state transitions over a job.Store.
type Queue struct {
	store       job.Store
	registry    *job.Registry
	policies    *retry.Policies
	hooks       *hook.Registry
	deadLetters *dlq.Service
	coordinator *cancel.Coordinator
	logger      *slog.Logger
	gracePeriod time.Duration

	wake chan struct{}
}

// New creates a Queue. All collaborators are required except deadLetters,
// which may be nil when dead-lettering is disabled.
func New(store job.Store, registry *job.Registry, policies *retry.Policies, hooks *hook.Registry, deadLetters *dlq.Service, coordinator *cancel.Coordinator, logger *slog.Logger, gracePeriod time.Duration) *Queue {
	return &Queue{
		store:       store,
		registry:    registry,
		policies:    policies,
		hooks:       hooks,
		deadLetters: deadLetters,
		coordinator: coordinator,
		logger:      logger,
		gracePeriod: gracePeriod,
		wake:        make(chan struct{}, 1),
	}
}

// Wake returns a channel that receives a signal when new work may be
// available. Worker slots select on it alongside their poll ticker.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Coordinator returns the cancellation coordinator.
func (q *Queue) Coordinator() *cancel.Coordinator { return q.coordinator }

// Registry returns the processor registry.
func (q *Queue) Registry() *job.Registry { return q.registry }

// Store returns the underlying job store.
func (q *Queue) Store() job.Store { return q.store }

// Enqueue validates the payload against the registered processor and
// persists a new pending job. Validation failures reject the request
// outright: no job record is created and nothing will be retried.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	rt, ok := q.registry.Get(jobType)
	if !ok {
		return nil, jobqueue.ErrNoProcessor
	}

	options := rt.Defaults
	for _, opt := range opts {
		opt(&options)
	}

	if rt.Validate != nil {
		if err := rt.Validate(payload); err != nil {
			return nil, retry.Validation(err)
		}
	}

	appID, orgID := scope.Capture(ctx)
	now := time.Now().UTC()
	notBefore := options.NotBefore
	if notBefore.IsZero() {
		notBefore = now
	}

	j := &job.Job{
		Entity:   jobqueue.NewEntity(),
		ID:       id.NewJobID(),
		Type:     jobType,
		Payload:  payload,
		Status:   job.StatusPending,
		Priority: options.Priority,
		Config: job.Config{
			MaxRetries:     options.MaxRetries,
			RetryDelayBase: options.RetryDelayBase,
			Timeout:        options.Timeout,
		},
		AppID:     appID,
		OrgID:     orgID,
		NotBefore: notBefore,
	}
	if rt.EstimateCount != nil {
		j.Progress.TotalCount = rt.EstimateCount(payload)
	}
	if rt.Estimate != nil {
		j.EstimatedDuration = rt.Estimate(payload)
	}

	if err := q.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	q.hooks.EmitJobEnqueued(ctx, j)
	q.notify()

	q.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("type", j.Type),
		slog.Int("priority", int(j.Priority)),
	)
	return j, nil
}

// ClaimNext atomically claims the next eligible job for workerID. A fresh
// claim token is minted per call and stamped onto the claimed job; it is
// the capability every later write for this attempt must present.
// Returns (nil, "", nil) when no work is available. Claim contention is
// retried a bounded number of times before giving up for this cycle.
func (q *Queue) ClaimNext(ctx context.Context, workerID id.WorkerID) (*job.Job, string, error) {
	token := id.NewClaimID().String()
	for attempt := 0; attempt <= claimRetries; attempt++ {
		j, err := q.store.ClaimNextJob(ctx, workerID, token)
		if errors.Is(err, jobqueue.ErrClaimContention) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		if j == nil {
			return nil, "", nil
		}
		q.hooks.EmitJobClaimed(ctx, j)
		return j, token, nil
	}
	return nil, "", nil
}

// ReportProgress persists a progress update for the attempt identified by
// token. Stale tokens and terminal jobs are rejected by the store; the
// percent floor is enforced there too.
func (q *Queue) ReportProgress(ctx context.Context, jobID id.JobID, token string, p job.Progress) error {
	if err := q.store.SaveProgress(ctx, jobID, token, p); err != nil {
		return err
	}
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	q.hooks.EmitJobProgress(ctx, j, j.Progress)
	return nil
}

// Complete finalizes a successful attempt. The result is recorded, the
// progress percent snaps to 100, and the job becomes terminal.
func (q *Queue) Complete(ctx context.Context, j *job.Job, token string, result *job.Result) error {
	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.Result = result
	if j.Result == nil {
		j.Result = &job.Result{Success: true}
	} else {
		j.Result.Success = true
	}
	j.Progress.Percent = 100
	j.CompletedAt = &now
	j.ClaimToken = ""
	j.WorkerID = id.Nil

	if err := q.store.FinalizeJob(ctx, j, token); err != nil {
		return err
	}

	var elapsed time.Duration
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	q.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// Fail records a failed attempt and applies the retry policy for the
// job's type: either the job is rescheduled with backoff (one retry
// record appended per scheduled retry) or it finalizes as failed and is
// indexed in the dead-letter queue.
func (q *Queue) Fail(ctx context.Context, j *job.Job, token string, procErr error) error {
	now := time.Now().UTC()
	decision := q.policies.Decide(j, procErr)
	j.LastError = procErr.Error()

	if decision.Retry {
		nextRunAt := now.Add(decision.Delay)
		j.RetryHistory = append(j.RetryHistory, job.RetryRecord{
			Attempt:     j.Attempt,
			Error:       procErr.Error(),
			ScheduledAt: nextRunAt,
		})
		j.Status = job.StatusRetrying
		j.NotBefore = nextRunAt
		j.ClaimToken = ""
		j.WorkerID = id.Nil

		if err := q.store.FinalizeJob(ctx, j, token); err != nil {
			return err
		}
		q.hooks.EmitJobRetrying(ctx, j, j.Attempt, nextRunAt)
		q.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempt),
			slog.Duration("delay", decision.Delay),
			slog.String("class", string(decision.Class)),
		)
		return nil
	}

	j.Status = job.StatusFailed
	j.Result = &job.Result{Success: false, Error: procErr.Error()}
	j.CompletedAt = &now
	j.ClaimToken = ""
	j.WorkerID = id.Nil

	if err := q.store.FinalizeJob(ctx, j, token); err != nil {
		return err
	}
	q.hooks.EmitJobFailed(ctx, j, procErr)

	if q.deadLetters != nil {
		if err := q.deadLetters.Push(ctx, j, procErr); err != nil {
			q.logger.Error("dead-letter push failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			q.hooks.EmitJobDLQ(ctx, j, procErr)
		}
	}
	q.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.Int("attempts", j.Attempt),
		slog.String("class", string(decision.Class)),
	)
	return nil
}

// FinishCancelled finalizes an attempt whose processor observed the
// cooperative signal and exited. Any partial result it accumulated is
// preserved on the record.
func (q *Queue) FinishCancelled(ctx context.Context, j *job.Job, token string, partial *job.Result, reason cancel.Reason) error {
	return q.finalizeCancelled(ctx, j, token, partial, reason, cancel.MethodCooperative)
}

// FinishForced finalizes an attempt whose context was cancelled from
// outside after the grace period, when the processor surfaced the context
// error instead of cancel.ErrCancelled.
func (q *Queue) FinishForced(ctx context.Context, j *job.Job, token string, partial *job.Result, reason cancel.Reason) error {
	return q.finalizeCancelled(ctx, j, token, partial, reason, cancel.MethodForced)
}

func (q *Queue) finalizeCancelled(ctx context.Context, j *job.Job, token string, partial *job.Result, reason cancel.Reason, method cancel.Method) error {
	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.Result = partial
	j.CompletedAt = &now
	j.ClaimToken = ""
	j.WorkerID = id.Nil
	if j.Cancellation == nil {
		// The caller holds a snapshot from claim time. Cancel wrote the
		// request record to the store after that, so recover it rather
		// than minting a fresh one with the wrong timestamp.
		if stored, err := q.store.GetJob(ctx, j.ID); err == nil && stored.Cancellation != nil {
			j.Cancellation = stored.Cancellation
		} else {
			j.Cancellation = &job.CancelInfo{RequestedAt: now}
		}
	}
	j.Cancellation.Reason = string(reason)
	j.Cancellation.Method = string(method)

	if err := q.store.FinalizeJob(ctx, j, token); err != nil {
		return err
	}
	q.hooks.EmitJobCancelled(ctx, j, reason, method)
	return nil
}

// Cancel requests cancellation of a job.
//
// Pending and retrying jobs finalize immediately with zero processor
// involvement. Processing jobs get the cooperative signal first; if the
// processor has not exited when the grace period ends, the attempt's
// context is cancelled and the job finalizes as cancelled regardless.
// Terminal jobs reject the request.
func (q *Queue) Cancel(ctx context.Context, jobID id.JobID, reason cancel.Reason) error {
	for {
		j, err := q.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}

		switch {
		case j.Status.Terminal():
			return jobqueue.ErrTerminal

		case j.Status == job.StatusPending || j.Status == job.StatusRetrying:
			now := time.Now().UTC()
			cancelled, err := q.store.CancelWaiting(ctx, jobID, &job.CancelInfo{
				Reason:      string(reason),
				Method:      string(cancel.MethodImmediate),
				RequestedAt: now,
			})
			if errors.Is(err, jobqueue.ErrInvalidTransition) {
				// A worker claimed the job between the read and the write.
				// Re-read and route the request to the processing branch.
				continue
			}
			if err != nil {
				return err
			}
			q.hooks.EmitJobCancelled(ctx, cancelled, reason, cancel.MethodImmediate)
			return nil

		default: // processing
			now := time.Now().UTC()
			j.Cancellation = &job.CancelInfo{
				Reason:      string(reason),
				RequestedAt: now,
			}
			if err := q.store.UpdateJob(ctx, j); err != nil {
				return err
			}
			token := j.ClaimToken
			q.coordinator.Signal(jobID, reason)
			go q.enforceGrace(jobID, token, reason)
			return nil
		}
	}
}

// enforceGrace waits out the grace period and, if the attempt is still
// running under the same claim token, forces it: the attempt context is
// cancelled and the job finalizes as cancelled. A processor that exited
// cooperatively in the meantime already released the token, so the
// re-read below sees a terminal job and the timer does nothing.
func (q *Queue) enforceGrace(jobID id.JobID, token string, reason cancel.Reason) {
	timer := time.NewTimer(q.gracePeriod)
	defer timer.Stop()
	<-timer.C

	ctx, cncl := context.WithTimeout(context.Background(), 10*time.Second)
	defer cncl()

	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		q.logger.Error("grace enforcement read failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.Status != job.StatusProcessing || j.ClaimToken != token {
		return
	}

	// Finalize before cancelling the attempt context. The other order
	// races: the unblocked processor's error return could reach Fail
	// first and reschedule the job as retrying.
	if err := q.finalizeCancelled(ctx, j, token, nil, reason, cancel.MethodForced); err != nil {
		if !errors.Is(err, jobqueue.ErrTerminal) && !errors.Is(err, jobqueue.ErrNotOwner) {
			q.logger.Error("forced cancellation finalize failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	q.coordinator.Force(jobID)
}

// Requeue returns a claimed job to pending without recording a failure,
// eligible again after delay. Used when admission limits defer a job the
// store already handed out, and when stale claims are recovered.
func (q *Queue) Requeue(ctx context.Context, j *job.Job, token string, delay time.Duration) error {
	j.Status = job.StatusPending
	j.NotBefore = time.Now().UTC().Add(delay)
	j.ClaimToken = ""
	j.WorkerID = id.Nil
	// The claim consumed an attempt the processor never saw; hand it back.
	if j.Attempt > 0 {
		j.Attempt--
	}
	j.Progress = job.Progress{TotalCount: j.Progress.TotalCount}
	return q.store.FinalizeJob(ctx, j, token)
}

// GetStatus returns the current job record.
func (q *Queue) GetStatus(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// List returns jobs matching opts.
func (q *Queue) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return q.store.ListJobs(ctx, opts)
}
