package queue

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines per-job-type admission behaviour: rate limiting and
// concurrency caps applied after a job is claimed, before it executes.
type Limit struct {
	// JobType is the job type this limit applies to.
	JobType string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously across the local worker pool. Zero means no
	// type-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second admitted for
	// this type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// OrgLimit defines admission behaviour for a specific organization on a
// specific job type. MyInvois submission quotas are enforced here, per
// tenant, so one organization's bulk run cannot starve the gateway
// allowance of the others.
type OrgLimit struct {
	JobType        string
	OrgID          string
	MaxConcurrency int
	RateLimit      float64
	RateBurst      int
}

type typeState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

type orgState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newTypeState(l Limit) *typeState {
	ts := &typeState{limit: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return ts
}

func orgKey(jobType, orgID string) string {
	return fmt.Sprintf("%s:%s", jobType, orgID)
}

// Admission enforces per-type and per-org limits between claim and
// execution. It is safe for concurrent use.
type Admission struct {
	mu    sync.Mutex
	types map[string]*typeState
	orgs  map[string]*orgState
}

// NewAdmission creates an Admission gate with the given type limits.
// Types not listed have no limits.
func NewAdmission(limits ...Limit) *Admission {
	a := &Admission{
		types: make(map[string]*typeState, len(limits)),
		orgs:  make(map[string]*orgState),
	}
	for _, l := range limits {
		a.types[l.JobType] = newTypeState(l)
	}
	return a
}

// Acquire checks rate limits and concurrency for the given job type and
// organization. If the job is allowed to proceed it increments the
// active counters and returns true. The caller MUST call Release when
// the job finishes.
func (a *Admission) Acquire(jobType, orgID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.types[jobType]
	if ts != nil {
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		if ts.limit.MaxConcurrency > 0 && ts.active >= ts.limit.MaxConcurrency {
			return false
		}
	}

	if orgID != "" {
		os := a.orgs[orgKey(jobType, orgID)]
		if os != nil {
			if os.limiter != nil && !os.limiter.Allow() {
				return false
			}
			if os.maxConcurrency > 0 && os.active >= os.maxConcurrency {
				return false
			}
			os.active++
		}
	}

	if ts != nil {
		ts.active++
	}

	return true
}

// Release decrements the active counters for the job type and organization.
func (a *Admission) Release(jobType, orgID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ts := a.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}

	if orgID != "" {
		if os := a.orgs[orgKey(jobType, orgID)]; os != nil && os.active > 0 {
			os.active--
		}
	}
}

// SetLimit dynamically updates (or creates) a job type limit.
func (a *Admission) SetLimit(l Limit) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing := a.types[l.JobType]
	ts := newTypeState(l)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	a.types[l.JobType] = ts
}

// SetOrgLimit configures limits for a specific organization on a specific
// job type. Calling this again for the same pair replaces the previous
// configuration.
func (a *Admission) SetOrgLimit(l OrgLimit) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := orgKey(l.JobType, l.OrgID)
	existing := a.orgs[key]

	os := &orgState{maxConcurrency: l.MaxConcurrency}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		os.active = existing.active
	}
	a.orgs[key] = os
}

// ActiveCount returns the current number of active jobs for a job type.
func (a *Admission) ActiveCount(jobType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ts := a.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}

// OrgActiveCount returns the current number of active jobs for a job
// type and organization pair.
func (a *Admission) OrgActiveCount(jobType, orgID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if os := a.orgs[orgKey(jobType, orgID)]; os != nil {
		return os.active
	}
	return 0
}
