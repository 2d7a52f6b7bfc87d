// Package worker provides the job execution engine: an Executor that
// invokes registered processors through middleware, and a Pool that
// manages the bounded set of worker slots claiming and running jobs.
package worker

import (
	"context"
	"errors"
	"log/slog"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/middleware"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/queue"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
)

// Executor runs a single claimed job through middleware and the
// registered processor, then routes the outcome back through the queue:
// completion, the retry decision, or cancellation finalization.
type Executor struct {
	queue  *queue.Queue
	mw     middleware.Middleware
	logger *slog.Logger
}

// NewExecutor creates an Executor with the given middleware chain.
func NewExecutor(q *queue.Queue, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		queue:  q,
		mw:     middleware.Chain(mws...),
		logger: logger,
	}
}

// Execute runs one attempt of a claimed job. ctx is the attempt context
// (cancelled on forced cancellation and pool shutdown); token is the
// claim token minted for this attempt; cancelTok carries the cooperative
// cancellation signal.
//
// On success the job completes. On cancel.ErrCancelled the job finalizes
// as cancelled with any partial result preserved. On any other error the
// retry policy decides between rescheduling and terminal failure.
func (e *Executor) Execute(ctx context.Context, j *job.Job, token string, cancelTok *cancel.Token) error {
	rt, ok := e.queue.Registry().Get(j.Type)
	if !ok {
		// Registry validation at enqueue makes this unreachable unless a
		// processor was deregistered across a restart. Fail fatally so
		// the job lands in the dead-letter index instead of looping.
		return e.queue.Fail(ctx, j, token, retry.Fatal(jobqueue.ErrNoProcessor))
	}

	var result *job.Result
	exec := job.NewExecution(*j,
		func(ctx context.Context, p job.Progress) error {
			return e.queue.ReportProgress(ctx, j.ID, token, p)
		},
		cancelTok.Cancelled,
	)

	terminal := func(ctx context.Context) error {
		res, err := rt.Execute(ctx, exec, j.Payload)
		result = res
		return err
	}

	err := e.mw(ctx, j, terminal)

	// Finalization must outlive the attempt context: a timed-out or
	// force-cancelled ctx would otherwise block the store writes that
	// record the outcome.
	finCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		return e.discardStale(e.queue.Complete(finCtx, j, token, result))

	case errors.Is(err, cancel.ErrCancelled):
		reason := cancelTok.Reason()
		if reason == "" {
			reason = cancel.ReasonUserRequested
		}
		return e.discardStale(e.queue.FinishCancelled(finCtx, j, token, result, reason))

	case cancelTok.Cancelled() && ctx.Err() != nil && cancelTok.Reason() != cancel.ReasonTimeoutExceeded:
		// The attempt context was cancelled from outside after the grace
		// period and the processor surfaced the context error rather than
		// cancel.ErrCancelled. That is still a cancellation outcome, not a
		// failure the retry policy should see. Timeout overruns are the
		// exception: those go through the retry decision below.
		return e.discardStale(e.queue.FinishForced(finCtx, j, token, result, cancelTok.Reason()))

	default:
		return e.discardStale(e.queue.Fail(finCtx, j, token, err))
	}
}

// discardStale swallows ownership and terminal-state rejections: they
// mean a forced cancellation or timeout already finalized the job, so a
// late callback from the abandoned attempt is expected and harmless.
func (e *Executor) discardStale(err error) error {
	if errors.Is(err, jobqueue.ErrNotOwner) || errors.Is(err, jobqueue.ErrTerminal) {
		e.logger.Debug("discarding finalization from superseded attempt",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return err
}
