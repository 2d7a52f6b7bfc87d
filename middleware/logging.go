package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("attempt started",
			slog.String("job_type", j.Type),
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("attempt failed",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("attempt completed",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
