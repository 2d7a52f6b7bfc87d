package dlq

import (
	"context"
	"time"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
)

// Service provides high-level dead-letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a dead-letter service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds an Entry from a terminally failed job and persists it.
// The retry history is copied so the entry stays diagnosable after the
// job record is purged by retention maintenance.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	history := make([]job.RetryRecord, len(j.RetryHistory))
	copy(history, j.RetryHistory)

	entry := &Entry{
		ID:           id.NewDLQID(),
		JobID:        j.ID,
		JobType:      j.Type,
		Payload:      j.Payload,
		Error:        jobErr.Error(),
		ErrorClass:   string(retry.Classify(jobErr)),
		Attempts:     j.Attempt,
		MaxRetries:   j.Config.MaxRetries,
		RetryHistory: history,
		AppID:        j.AppID,
		OrgID:        j.OrgID,
		FailedAt:     now,
		CreatedAt:    now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Store returns the underlying dead-letter store for direct access to
// List, Get, Purge, and Count.
func (s *Service) Store() Store {
	return s.store
}
