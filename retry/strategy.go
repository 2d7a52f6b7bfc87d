package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
// All strategies are stateless and safe for concurrent use.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed-interval backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialJitter (equal jitter)
// ──────────────────────────────────────────────────

// ExponentialJitter applies equal jitter to an exponential base:
// Delay = half the exponential value plus a random value in [0, half].
// Retries spread out without ever firing immediately, which keeps the
// first retry after a base of 1s close to 1s rather than near zero.
type ExponentialJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialJitter creates an exponential backoff with equal jitter.
func NewExponentialJitter(base, maxDelay time.Duration) *ExponentialJitter {
	return &ExponentialJitter{Base: base, Max: maxDelay}
}

// Delay returns half the exponential delay plus random jitter up to the
// other half.
func (e *ExponentialJitter) Delay(attempt int) time.Duration {
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	half := d / 2
	return time.Duration(half + rand.Float64()*half) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the default backoff used when no policy is
// registered for a job type: exponential with 1s base and 1m cap.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 1*time.Minute)
}
