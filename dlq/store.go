package dlq

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// ListOpts controls pagination and filtering for dead-letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// JobType filters by job type. Empty means all types.
	JobType string
	// OrgID filters by owning organization. Empty means all.
	OrgID string
}

// Store defines the persistence contract for the dead-letter index.
type Store interface {
	// PushDLQ adds a failed job entry to the index.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID, or jobqueue.ErrDLQNotFound.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks an entry as replayed. The actual re-enqueue is
	// handled at the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the index.
	CountDLQ(ctx context.Context) (int64, error)
}
