package middleware

import (
	"context"
	"log/slog"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Timeout returns middleware that enforces the per-attempt deadline.
// If the job has a non-zero Config.Timeout, a context.WithTimeout wraps
// the processor call. When the deadline is exceeded the context is
// cancelled and the processor returns context.DeadlineExceeded, which
// classifies as transient and flows through the retry decision like any
// other transient failure.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Config.Timeout > 0 {
			logger.Debug("attempt deadline set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Config.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Config.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
