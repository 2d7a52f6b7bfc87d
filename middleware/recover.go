package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
)

// Recover returns middleware that recovers from panics in the processor
// chain. Panics are logged with a stack trace and converted to system
// errors, so a panicking attempt consumes retry budget like any other
// transient failure instead of taking the worker slot down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job processor panicked",
					slog.String("job_type", j.Type),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = retry.System(fmt.Errorf("panic in job %s: %v", j.Type, r))
			}
		}()
		return next(ctx)
	}
}
