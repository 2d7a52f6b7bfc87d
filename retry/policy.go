package retry

import (
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Decision is the outcome of evaluating a failed attempt against a policy.
type Decision struct {
	// Retry is true when the job should be rescheduled for another
	// attempt after Delay.
	Retry bool

	// Delay is how long to wait before the next attempt becomes eligible.
	Delay time.Duration

	// Class is the classification of the error that triggered the
	// decision.
	Class Class
}

// Policy decides whether and when a failed job is retried. Build
// constructs the backoff strategy from the effective base delay, so a
// job's RetryDelayBase override flows into the same curve.
type Policy struct {
	// BaseDelay is used when the job carries no RetryDelayBase of its own.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Zero means uncapped.
	MaxDelay time.Duration

	// Build constructs the strategy for a given base delay. Nil falls
	// back to exponential.
	Build func(base, maxDelay time.Duration) Strategy
}

// Decide evaluates the attempt that just failed. Fatal and validation
// errors never retry; transient and system errors retry while the job
// has budget left (at most MaxRetries retries after the first attempt).
func (p Policy) Decide(j *job.Job, err error) Decision {
	class := Classify(err)
	if class == ClassFatal || class == ClassValidation {
		return Decision{Retry: false, Class: class}
	}
	if j.Attempt > j.Config.MaxRetries {
		return Decision{Retry: false, Class: class}
	}

	base := j.Config.RetryDelayBase
	if base <= 0 {
		base = p.BaseDelay
	}
	if base <= 0 {
		base = time.Second
	}

	var strat Strategy
	if p.Build != nil {
		strat = p.Build(base, p.MaxDelay)
	} else {
		strat = NewExponential(base, p.MaxDelay)
	}

	return Decision{Retry: true, Delay: strat.Delay(j.Attempt), Class: class}
}

// Policies maps job types to retry policies, with a fallback for
// unregistered types. Safe for concurrent reads after construction.
type Policies struct {
	byType   map[string]Policy
	fallback Policy
}

// NewPolicies creates a policy set with the given fallback.
func NewPolicies(fallback Policy) *Policies {
	return &Policies{
		byType:   make(map[string]Policy),
		fallback: fallback,
	}
}

// Set registers the policy for a job type, replacing any previous one.
func (ps *Policies) Set(jobType string, p Policy) {
	ps.byType[jobType] = p
}

// For returns the policy for the given job type.
func (ps *Policies) For(jobType string) Policy {
	if p, ok := ps.byType[jobType]; ok {
		return p
	}
	return ps.fallback
}

// Decide evaluates a failed attempt under the policy for its job type.
func (ps *Policies) Decide(j *job.Job, err error) Decision {
	return ps.For(j.Type).Decide(j, err)
}

// DefaultPolicies returns the production policy set. Submission jobs talk
// to the MyInvois gateway and back off patiently with jitter; validation
// jobs are local and retry quickly at a fixed interval; everything else
// uses plain exponential backoff.
func DefaultPolicies() *Policies {
	ps := NewPolicies(Policy{
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	})
	ps.Set(job.TypeBulkSubmission, Policy{
		BaseDelay: 2 * time.Second,
		MaxDelay:  5 * time.Minute,
		Build: func(base, maxDelay time.Duration) Strategy {
			return NewExponentialJitter(base, maxDelay)
		},
	})
	ps.Set(job.TypeBulkValidation, Policy{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Build: func(base, maxDelay time.Duration) Strategy {
			return NewFixed(base)
		},
	})
	return ps
}
