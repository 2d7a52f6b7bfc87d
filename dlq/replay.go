package dlq

import (
	"context"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Replay re-enqueues a dead-letter entry as a new pending job and marks
// the entry as replayed. The new job gets a fresh ID, a zero attempt
// counter, an empty retry history, and is eligible immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:   jobqueue.NewEntity(),
		ID:       id.NewJobID(),
		Type:     entry.JobType,
		Payload:  entry.Payload,
		Status:   job.StatusPending,
		Priority: job.PriorityNormal,
		Config: job.Config{
			MaxRetries: entry.MaxRetries,
		},
		AppID:     entry.AppID,
		OrgID:     entry.OrgID,
		NotBefore: now,
	}

	if err := s.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Surface the marker failure but
		// return the job so the caller can track it.
		return j, err
	}

	return j, nil
}
