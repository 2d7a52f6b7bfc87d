// Package retry provides error classification, backoff strategies, and
// retry policies for failed job attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
)

// Class categorizes a processing error for the retry decision.
type Class string

const (
	// ClassValidation means the payload can never succeed. Validation
	// errors are raised before any attempt runs; a job never enters the
	// retry loop because of one.
	ClassValidation Class = "validation"

	// ClassTransient means the failure may resolve on its own (network,
	// rate limit, upstream outage). Eligible for retry.
	ClassTransient Class = "transient"

	// ClassFatal means retrying cannot help (malformed state, permanent
	// upstream rejection). The job fails immediately regardless of
	// remaining retry budget.
	ClassFatal Class = "fatal"

	// ClassSystem means the failure originated in the queue machinery
	// itself (store write failed, processor panicked). Treated as
	// transient for the retry decision.
	ClassSystem Class = "system"
)

// classified wraps an error with an explicit class.
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks err as transient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassTransient, err: err}
}

// Transientf formats a new transient error.
func Transientf(format string, args ...any) error {
	return &classified{class: ClassTransient, err: fmt.Errorf(format, args...)}
}

// Fatal marks err as fatal: no retry regardless of remaining budget.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassFatal, err: err}
}

// Fatalf formats a new fatal error.
func Fatalf(format string, args ...any) error {
	return &classified{class: ClassFatal, err: fmt.Errorf(format, args...)}
}

// Validation marks err as a validation failure.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassValidation, err: err}
}

// System marks err as a queue-internal failure.
func System(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassSystem, err: err}
}

// Classify returns the class of err. Explicitly wrapped errors keep their
// class; context deadline errors classify as transient (a timed-out
// attempt may succeed on retry); everything else defaults to transient,
// so unknown failures consume retry budget rather than failing outright.
func Classify(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassTransient
}
