// Package jobqueue provides the asynchronous job processing core of the
// Easy e-Invoice application: a durable queue for long-running bulk
// operations (CSV import, export, regulatory submission, validation),
// drained by a bounded worker pool with progress tracking, retry with
// backoff, cooperative cancellation, and a dead-letter index.
//
// The core is a library, not a service. The HTTP layer constructs one
// Service at startup, registers processors for each job type, and enqueues
// work through the engine package.
//
// # Quick Start
//
//	svc, err := jobqueue.New(
//	    jobqueue.WithStore(memStore),
//	    jobqueue.WithConcurrency(3),
//	)
//
// # Architecture
//
// Each subsystem (job, dlq, event, cron) defines its own store interface
// and a single backend implements all of them. Backends: Postgres, Redis,
// and Memory. All entity IDs are TypeIDs, meaning type-prefixed,
// K-sortable, UUIDv7-based identifiers.
//
// Job lifecycle: pending → processing → {completed, failed, retrying,
// cancelled}; retrying → processing once the backoff delay elapses.
// Completed, failed, and cancelled are terminal and immutable.
package jobqueue
