package job

import (
	"context"
	"time"
)

// Processor is a typed job processor. T is the payload type and must be
// JSON-serializable.
//
// Validate, Estimate and EstimateCount are optional: returning nil from
// Validate accepts any payload, Estimate returning 0 means no duration
// estimate, and EstimateCount returning 0 means the total work size is
// unknown (progress reports then carry counts without a denominator).
type Processor[T any] struct {
	// Type is the registry key producers use when enqueuing.
	Type string

	// Validate checks the payload before the job is accepted. A non-nil
	// error rejects the enqueue with a validation error and no job is
	// created.
	Validate func(payload T) error

	// Estimate returns the expected wall-clock duration for the whole
	// job, recorded on the record at enqueue time.
	Estimate func(payload T) time.Duration

	// EstimateCount returns the expected total work item count, used to
	// seed Progress.TotalCount for the first attempt.
	EstimateCount func(payload T) int64

	// Execute runs one attempt. It may return a partial Result alongside
	// a non-nil error; on cooperative cancellation the partial result is
	// preserved on the job record.
	Execute func(ctx context.Context, exec *Execution, payload T) (*Result, error)

	// Defaults are the enqueue options applied when the producer passes
	// none.
	Defaults Options
}

// NewProcessor creates a typed processor with defaults built from opts.
func NewProcessor[T any](jobType string, execute func(ctx context.Context, exec *Execution, payload T) (*Result, error), opts ...Option) *Processor[T] {
	p := &Processor[T]{
		Type:     jobType,
		Execute:  execute,
		Defaults: DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&p.Defaults)
	}
	return p
}
