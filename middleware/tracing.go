package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// tracerName is the instrumentation scope name for job queue tracing.
const tracerName = "github.com/lazylmf-ai/Easy-e-Invoice-sub002"

// Tracing returns middleware that wraps attempt execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: jobqueue.job.id, jobqueue.job.type,
// jobqueue.attempt, jobqueue.priority, jobqueue.scope.app_id,
// jobqueue.scope.org_id. On error, the span status is set to codes.Error
// with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobqueue.attempt.execute",
			trace.WithAttributes(
				attribute.String("jobqueue.job.id", j.ID.String()),
				attribute.String("jobqueue.job.type", j.Type),
				attribute.Int("jobqueue.attempt", j.Attempt),
				attribute.Int("jobqueue.priority", int(j.Priority)),
				attribute.String("jobqueue.scope.app_id", j.AppID),
				attribute.String("jobqueue.scope.org_id", j.OrgID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
