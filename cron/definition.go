package cron

// Definition is a typed maintenance schedule definition. T is the payload
// type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this entry.
	Name string

	// Schedule is a cron expression (e.g., "0 3 * * *" or "@every 30m").
	Schedule string

	// JobType is the job type to enqueue on each fire.
	JobType string

	// Payload is the default payload to enqueue with the job.
	Payload T
}
