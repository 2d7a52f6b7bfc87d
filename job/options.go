package job

import "time"

// Options configures per-job behavior at enqueue time: retries, priority,
// timeout, and scheduling.
type Options struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int

	// Priority determines claim ordering. Higher tiers are always
	// claimed before lower ones.
	Priority Priority

	// Timeout is the maximum duration one attempt may run. Zero means
	// no timeout.
	Timeout time.Duration

	// RetryDelayBase is the base delay fed to the retry strategy. Zero
	// falls back to the policy default for the job type.
	RetryDelayBase time.Duration

	// NotBefore schedules the job for future execution. Zero means
	// eligible immediately.
	NotBefore time.Time
}

// DefaultOptions returns Options with the defaults used in production.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Priority:   PriorityNormal,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring job enqueue behavior.
type Option func(*Options)

// WithMaxRetries sets the number of retry attempts after the first failure.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithPriority sets the job priority tier.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum duration for one execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRetryDelayBase sets the base delay for retry backoff.
func WithRetryDelayBase(d time.Duration) Option {
	return func(o *Options) {
		o.RetryDelayBase = d
	}
}

// WithNotBefore schedules the job for execution no earlier than t.
func WithNotBefore(t time.Time) Option {
	return func(o *Options) {
		o.NotBefore = t
	}
}
