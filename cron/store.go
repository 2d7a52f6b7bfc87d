package cron

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Store defines the persistence contract for maintenance schedule entries.
type Store interface {
	// RegisterCron persists a new entry. Returns
	// jobqueue.ErrDuplicateCron if the name already exists.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves an entry by ID, or jobqueue.ErrCronNotFound.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// ListCrons returns all entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// AcquireCronLock attempts to acquire the firing lock for an entry.
	// Returns true if the lock was acquired. The lock expires after ttl.
	AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseCronLock releases the firing lock for an entry.
	ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error

	// UpdateCronLastRun records when an entry last fired.
	UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error

	// UpdateCronEntry updates an entry (Enabled, NextRunAt, etc.).
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes an entry by ID.
	DeleteCron(ctx context.Context, entryID id.CronID) error
}
