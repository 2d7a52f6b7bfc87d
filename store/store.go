// Package store defines the aggregate persistence interface. Each
// subsystem (job, dlq, event, cron) defines its own store interface and
// the composite Store composes them all. Backends: Postgres, Redis, and
// Memory.
package store

import (
	"context"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cron"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/event"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	job.Store
	dlq.Store
	event.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
