package jobqueue

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("jobqueue: no store configured")
	ErrStoreClosed     = errors.New("jobqueue: store closed")
	ErrMigrationFailed = errors.New("jobqueue: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("jobqueue: job not found")
	ErrDLQNotFound   = errors.New("jobqueue: dead-letter entry not found")
	ErrEventNotFound = errors.New("jobqueue: event not found")
	ErrCronNotFound  = errors.New("jobqueue: cron entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobqueue: job already exists")
	ErrDuplicateCron    = errors.New("jobqueue: duplicate cron entry")

	// State errors.
	ErrInvalidTransition = errors.New("jobqueue: invalid status transition")
	ErrTerminal          = errors.New("jobqueue: job is in a terminal status")
	ErrNotOwner          = errors.New("jobqueue: claim token does not match current owner")
	ErrNoProcessor       = errors.New("jobqueue: no processor registered for job type")

	// ErrClaimContention is returned by a store when another worker won the
	// race for the same job. The queue retries claim selection a bounded
	// number of times before reporting no work.
	ErrClaimContention = errors.New("jobqueue: claim lost to another worker")
)
