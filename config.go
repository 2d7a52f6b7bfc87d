package jobqueue

import "time"

// Config holds configuration for the Service.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	// No more than this many jobs are ever in processing at once.
	Concurrency int

	// PollInterval is how often an idle worker slot polls for new jobs.
	// Slots are also woken immediately when a job is enqueued.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before in-flight jobs are force-cancelled.
	ShutdownTimeout time.Duration

	// HealthCheckInterval is how often the pool scans processing jobs for
	// timeout overruns and abandoned claims.
	HealthCheckInterval time.Duration

	// HeartbeatInterval is how often workers refresh the liveness mark on
	// the jobs they hold. Zero disables liveness marking.
	HeartbeatInterval time.Duration

	// StaleClaimThreshold is how long a processing job may go without a
	// liveness mark before its claim is considered abandoned and the job
	// is returned to pending.
	StaleClaimThreshold time.Duration

	// GracePeriod is how long a cancellation request waits for the
	// processor to exit cooperatively before the job is finalized as
	// cancelled regardless.
	GracePeriod time.Duration
}

// DefaultConfig returns a Config with the defaults used in production.
func DefaultConfig() Config {
	return Config{
		Concurrency:         3,
		PollInterval:        1 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		StaleClaimThreshold: 60 * time.Second,
		GracePeriod:         5 * time.Second,
	}
}
