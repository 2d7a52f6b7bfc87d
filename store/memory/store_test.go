package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cron"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/event"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job store tests
// ──────────────────────────────────────────────────

func newJob(jobType string, priority job.Priority, notBefore time.Time) *job.Job {
	return &job.Job{
		Entity:    jobqueue.NewEntity(),
		ID:        id.NewJobID(),
		Type:      jobType,
		Payload:   []byte(`{"test":true}`),
		Status:    job.StatusPending,
		Priority:  priority,
		Config:    job.Config{MaxRetries: 3},
		NotBefore: notBefore,
	}
}

func TestJobCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("bulk-import", job.PriorityNormal, time.Now().UTC().Add(-time.Second))

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "create new job",
			fn:      func() error { return s.CreateJob(ctx, j) },
			wantErr: nil,
		},
		{
			name:    "create duplicate job",
			fn:      func() error { return s.CreateJob(ctx, j) },
			wantErr: jobqueue.ErrJobAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Type != j.Type {
		t.Fatalf("got type %q, want %q", got.Type, j.Type)
	}

	// Returned jobs are copies: mutating one must not leak into the store.
	got.Type = "mutated"
	again, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if again.Type != j.Type {
		t.Fatal("stored job was mutated through a returned copy")
	}

	_, err = s.GetJob(ctx, id.NewJobID())
	if !errors.Is(err, jobqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimPriorityOrdering(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	eligible := time.Now().UTC().Add(-time.Second)

	low := newJob("ordered", job.PriorityLow, eligible)
	critical := newJob("ordered", job.PriorityCritical, eligible)
	normalFirst := newJob("ordered", job.PriorityNormal, eligible.Add(-2*time.Second))
	normalSecond := newJob("ordered", job.PriorityNormal, eligible.Add(-time.Second))

	for _, j := range []*job.Job{low, normalSecond, critical, normalFirst} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	workerID := id.NewWorkerID()
	wantOrder := []id.JobID{critical.ID, normalFirst.ID, normalSecond.ID, low.ID}
	for i, wantID := range wantOrder {
		claimed, err := s.ClaimNextJob(ctx, workerID, id.NewClaimID().String())
		if err != nil {
			t.Fatalf("ClaimNextJob #%d: %v", i, err)
		}
		if claimed == nil {
			t.Fatalf("ClaimNextJob #%d returned nil, want %v", i, wantID)
		}
		if claimed.ID != wantID {
			t.Fatalf("claim #%d = %v, want %v", i, claimed.ID, wantID)
		}
	}

	// Queue drained.
	claimed, err := s.ClaimNextJob(ctx, workerID, id.NewClaimID().String())
	if err != nil {
		t.Fatalf("ClaimNextJob on empty queue: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil from empty queue, got %v", claimed.ID)
	}
}

func TestClaimRespectsNotBefore(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	future := newJob("deferred", job.PriorityCritical, time.Now().UTC().Add(time.Hour))
	if err := s.CreateJob(ctx, future); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	claimed, err := s.ClaimNextJob(ctx, id.NewWorkerID(), id.NewClaimID().String())
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed a job scheduled in the future: %v", claimed.ID)
	}
}

func TestClaimStampsAttemptState(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("stamped", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	j.Progress = job.Progress{Percent: 80, ProcessedCount: 80, TotalCount: 100}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	workerID := id.NewWorkerID()
	token := id.NewClaimID().String()
	claimed, err := s.ClaimNextJob(ctx, workerID, token)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claim")
	}

	if claimed.Status != job.StatusProcessing {
		t.Errorf("Status = %q, want %q", claimed.Status, job.StatusProcessing)
	}
	if claimed.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", claimed.Attempt)
	}
	if claimed.ClaimToken != token {
		t.Errorf("ClaimToken = %q, want %q", claimed.ClaimToken, token)
	}
	if claimed.WorkerID != workerID {
		t.Errorf("WorkerID = %v, want %v", claimed.WorkerID, workerID)
	}
	if claimed.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
	// Progress resets for the new attempt, keeping the denominator.
	if claimed.Progress.Percent != 0 || claimed.Progress.ProcessedCount != 0 {
		t.Errorf("Progress not reset: %+v", claimed.Progress)
	}
	if claimed.Progress.TotalCount != 100 {
		t.Errorf("Progress.TotalCount = %d, want 100", claimed.Progress.TotalCount)
	}
}

func TestFinalizeTokenOwnership(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("owned", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	token := id.NewClaimID().String()
	claimed, err := s.ClaimNextJob(ctx, id.NewWorkerID(), token)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: %v, %v", claimed, err)
	}

	// A stale token cannot finalize.
	claimed.Status = job.StatusCompleted
	if err := s.FinalizeJob(ctx, claimed, id.NewClaimID().String()); !errors.Is(err, jobqueue.ErrNotOwner) {
		t.Fatalf("finalize with stale token = %v, want ErrNotOwner", err)
	}

	// The owner can.
	if err := s.FinalizeJob(ctx, claimed, token); err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}

	// Finalizing again with the same terminal status is an idempotent no-op.
	if err := s.FinalizeJob(ctx, claimed, token); err != nil {
		t.Fatalf("idempotent finalize = %v, want nil", err)
	}

	// A different terminal status is rejected.
	claimed.Status = job.StatusFailed
	if err := s.FinalizeJob(ctx, claimed, token); !errors.Is(err, jobqueue.ErrTerminal) {
		t.Fatalf("conflicting finalize = %v, want ErrTerminal", err)
	}
}

func TestUpdateJobTerminalGuard(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("guarded", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	j.Status = job.StatusCancelled
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob to cancelled: %v", err)
	}

	j.Status = job.StatusPending
	if err := s.UpdateJob(ctx, j); !errors.Is(err, jobqueue.ErrTerminal) {
		t.Fatalf("UpdateJob out of terminal = %v, want ErrTerminal", err)
	}
}

func TestCancelWaitingGuard(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("cancellable", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	info := &job.CancelInfo{
		Reason:      "user-requested",
		Method:      "immediate",
		RequestedAt: time.Now().UTC(),
	}
	got, err := s.CancelWaiting(ctx, j.ID, info)
	if err != nil {
		t.Fatalf("CancelWaiting: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(info.RequestedAt) {
		t.Errorf("CompletedAt = %v, want the request time", got.CompletedAt)
	}
	if got.Cancellation == nil || got.Cancellation.Method != "immediate" {
		t.Errorf("Cancellation = %+v, want the request record", got.Cancellation)
	}

	// Already terminal: the guarded write is a clean conflict.
	if _, err := s.CancelWaiting(ctx, j.ID, info); !errors.Is(err, jobqueue.ErrInvalidTransition) {
		t.Fatalf("repeat CancelWaiting = %v, want ErrInvalidTransition", err)
	}

	// Claimed in the meantime: same conflict, the attempt keeps running.
	running := newJob("cancellable", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, running); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, id.NewWorkerID(), id.NewClaimID().String()); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if _, err := s.CancelWaiting(ctx, running.ID, info); !errors.Is(err, jobqueue.ErrInvalidTransition) {
		t.Fatalf("CancelWaiting on claimed job = %v, want ErrInvalidTransition", err)
	}
	current, err := s.GetJob(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if current.Status != job.StatusProcessing {
		t.Errorf("Status after rejected cancel = %q, want processing", current.Status)
	}

	if _, err := s.CancelWaiting(ctx, id.NewJobID(), info); !errors.Is(err, jobqueue.ErrJobNotFound) {
		t.Fatalf("missing CancelWaiting = %v, want ErrJobNotFound", err)
	}
}

func TestSaveProgressMonotonic(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("progressing", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	token := id.NewClaimID().String()
	if _, err := s.ClaimNextJob(ctx, id.NewWorkerID(), token); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.SaveProgress(ctx, j.ID, token, job.Progress{Percent: 60, ProcessedCount: 60}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	// A lower percent must not move the bar backwards.
	if err := s.SaveProgress(ctx, j.ID, token, job.Progress{Percent: 30, ProcessedCount: 65}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Progress.Percent != 60 {
		t.Errorf("Percent = %d, want 60 (must never decrease)", got.Progress.Percent)
	}
	if got.Progress.ProcessedCount != 65 {
		t.Errorf("ProcessedCount = %d, want 65", got.Progress.ProcessedCount)
	}

	// Stale token rejected.
	if err := s.SaveProgress(ctx, j.ID, id.NewClaimID().String(), job.Progress{Percent: 90}); !errors.Is(err, jobqueue.ErrNotOwner) {
		t.Fatalf("SaveProgress with stale token = %v, want ErrNotOwner", err)
	}

	// Progress after finalization rejected.
	fin, _ := s.GetJob(ctx, j.ID)
	fin.Status = job.StatusCompleted
	if err := s.FinalizeJob(ctx, fin, token); err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}
	if err := s.SaveProgress(ctx, j.ID, token, job.Progress{Percent: 99}); !errors.Is(err, jobqueue.ErrTerminal) {
		t.Fatalf("SaveProgress on terminal job = %v, want ErrTerminal", err)
	}
}

func TestTouchAndStaleJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("touched", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	token := id.NewClaimID().String()
	if _, err := s.ClaimNextJob(ctx, id.NewWorkerID(), token); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	// Touch with a stale token is rejected.
	if err := s.TouchJob(ctx, j.ID, "clm_bogus", time.Now().UTC()); !errors.Is(err, jobqueue.ErrNotOwner) {
		t.Fatalf("TouchJob stale token = %v, want ErrNotOwner", err)
	}

	// A fresh liveness mark keeps the job out of the stale set.
	if err := s.TouchJob(ctx, j.ID, token, time.Now().UTC()); err != nil {
		t.Fatalf("TouchJob: %v", err)
	}
	stale, err := s.StaleJobs(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("StaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stale jobs, want 0", len(stale))
	}

	// An old mark lands it in the stale set.
	if err := s.TouchJob(ctx, j.ID, token, time.Now().UTC().Add(-2*time.Minute)); err != nil {
		t.Fatalf("TouchJob: %v", err)
	}
	stale, err = s.StaleJobs(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("StaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("stale = %v, want [%v]", stale, j.ID)
	}
}

func TestListAndCountJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	mk := func(jobType, orgID string, status job.Status, age time.Duration) *job.Job {
		j := newJob(jobType, job.PriorityNormal, base.Add(-time.Second))
		j.OrgID = orgID
		j.Status = status
		j.CreatedAt = base.Add(-age)
		return j
	}

	jobs := []*job.Job{
		mk("bulk-import", "org_a", job.StatusPending, 3*time.Minute),
		mk("bulk-import", "org_a", job.StatusCompleted, 2*time.Minute),
		mk("bulk-export", "org_b", job.StatusPending, 1*time.Minute),
	}
	for _, j := range jobs {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	tests := []struct {
		name      string
		opts      job.ListOpts
		wantCount int
		wantFirst id.JobID
	}{
		{"all newest first", job.ListOpts{}, 3, jobs[2].ID},
		{"by type", job.ListOpts{Type: "bulk-import"}, 2, jobs[1].ID},
		{"by org", job.ListOpts{OrgID: "org_b"}, 1, jobs[2].ID},
		{"by status", job.ListOpts{Status: job.StatusPending}, 2, jobs[2].ID},
		{"by status set", job.ListOpts{Statuses: []job.Status{job.StatusCompleted}}, 1, jobs[1].ID},
		{"limit", job.ListOpts{Limit: 1}, 1, jobs[2].ID},
		{"offset", job.ListOpts{Offset: 1, Limit: 1}, 1, jobs[1].ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("got %d jobs, want %d", len(got), tt.wantCount)
			}
			if len(got) > 0 && got[0].ID != tt.wantFirst {
				t.Fatalf("first = %v, want %v", got[0].ID, tt.wantFirst)
			}
		})
	}

	count, err := s.CountJobs(ctx, job.CountOpts{Type: "bulk-import"})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	if err := s.DeleteJob(ctx, jobs[0].ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, jobs[0].ID); !errors.Is(err, jobqueue.ErrJobNotFound) {
		t.Fatalf("GetJob after delete = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, jobs[0].ID); !errors.Is(err, jobqueue.ErrJobNotFound) {
		t.Fatalf("DeleteJob again = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Dead-letter store tests
// ──────────────────────────────────────────────────

func newDLQEntry(jobType, orgID string, failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		ID:         id.NewDLQID(),
		JobID:      id.NewJobID(),
		JobType:    jobType,
		Payload:    []byte(`{}`),
		Error:      "boom",
		ErrorClass: "transient",
		Attempts:   4,
		MaxRetries: 3,
		OrgID:      orgID,
		FailedAt:   failedAt,
		CreatedAt:  failedAt,
	}
}

func TestDLQPushListGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	older := newDLQEntry("bulk-import", "org_a", base.Add(-2*time.Hour))
	newer := newDLQEntry("bulk-export", "org_b", base.Add(-time.Hour))
	for _, e := range []*dlq.Entry{older, newer} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	got, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(got) != 2 || got[0].ID != newer.ID {
		t.Fatalf("expected newest-first listing, got %v", got)
	}

	byType, err := s.ListDLQ(ctx, dlq.ListOpts{JobType: "bulk-import"})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != older.ID {
		t.Fatalf("type filter returned %v", byType)
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, jobqueue.ErrDLQNotFound) {
		t.Fatalf("GetDLQ missing = %v, want ErrDLQNotFound", err)
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestDLQReplayAndPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	e := newDLQEntry("bulk-import", "org_a", base.Add(-2*time.Hour))
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	if err := s.ReplayDLQ(ctx, e.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected ReplayedAt to be set")
	}

	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, jobqueue.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ missing = %v, want ErrDLQNotFound", err)
	}

	purged, err := s.PurgeDLQ(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if _, err := s.GetDLQ(ctx, e.ID); !errors.Is(err, jobqueue.ErrDLQNotFound) {
		t.Fatalf("GetDLQ after purge = %v, want ErrDLQNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Event store tests
// ──────────────────────────────────────────────────

func newEvent(jobID id.JobID, eventType string) *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		JobID:     jobID,
		Type:      eventType,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestEventFeedOrderingAndResume(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	jobID := id.NewJobID()

	types := []string{
		event.TypeJobEnqueued,
		event.TypeJobClaimed,
		event.TypeJobProgress,
		event.TypeJobCompleted,
	}
	var published []*event.Event
	for _, typ := range types {
		evt := newEvent(jobID, typ)
		if err := s.PublishEvent(ctx, evt); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
		published = append(published, evt)
	}

	feed, err := s.ListEventsByJob(ctx, jobID, id.Nil)
	if err != nil {
		t.Fatalf("ListEventsByJob: %v", err)
	}
	if len(feed) != len(types) {
		t.Fatalf("got %d events, want %d", len(feed), len(types))
	}
	for i, evt := range feed {
		if evt.Type != types[i] {
			t.Fatalf("feed[%d].Type = %q, want %q", i, evt.Type, types[i])
		}
	}

	// Resume after the second event.
	rest, err := s.ListEventsByJob(ctx, jobID, published[1].ID)
	if err != nil {
		t.Fatalf("ListEventsByJob after: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != published[2].ID {
		t.Fatalf("resume returned %v", rest)
	}

	// Other jobs have empty feeds.
	other, err := s.ListEventsByJob(ctx, id.NewJobID(), id.Nil)
	if err != nil {
		t.Fatalf("ListEventsByJob other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("got %d events for unrelated job, want 0", len(other))
	}
}

func TestEventSubscribeAndAck(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	// Timeout with nothing published.
	got, err := s.SubscribeEvent(ctx, event.TypeJobCompleted, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SubscribeEvent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on timeout, got %v", got)
	}

	evt := newEvent(id.NewJobID(), event.TypeJobCompleted)
	if err := s.PublishEvent(ctx, evt); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	got, err = s.SubscribeEvent(ctx, event.TypeJobCompleted, time.Second)
	if err != nil {
		t.Fatalf("SubscribeEvent: %v", err)
	}
	if got == nil || got.ID != evt.ID {
		t.Fatalf("subscribe returned %v, want %v", got, evt.ID)
	}

	if err := s.AckEvent(ctx, evt.ID); err != nil {
		t.Fatalf("AckEvent: %v", err)
	}

	// Acked events are not redelivered.
	got, err = s.SubscribeEvent(ctx, event.TypeJobCompleted, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SubscribeEvent: %v", err)
	}
	if got != nil {
		t.Fatalf("acked event redelivered: %v", got)
	}

	if err := s.AckEvent(ctx, id.NewEventID()); !errors.Is(err, jobqueue.ErrEventNotFound) {
		t.Fatalf("AckEvent missing = %v, want ErrEventNotFound", err)
	}
}

func TestEventPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := newEvent(id.NewJobID(), event.TypeJobEnqueued)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	recent := newEvent(id.NewJobID(), event.TypeJobEnqueued)
	for _, evt := range []*event.Event{old, recent} {
		if err := s.PublishEvent(ctx, evt); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}

	purged, err := s.PurgeEvents(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeEvents: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	feed, err := s.ListEventsByJob(ctx, recent.JobID, id.Nil)
	if err != nil {
		t.Fatalf("ListEventsByJob: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("got %d events, want 1", len(feed))
	}
}

// ──────────────────────────────────────────────────
// Schedule store tests
// ──────────────────────────────────────────────────

func newCronEntry(name string) *cron.Entry {
	next := time.Now().UTC().Add(time.Hour)
	return &cron.Entry{
		Entity:    jobqueue.NewEntity(),
		ID:        id.NewCronID(),
		Name:      name,
		Schedule:  "0 3 * * *",
		JobType:   job.TypeMaintenance,
		NextRunAt: &next,
		Enabled:   true,
	}
}

func TestCronRegisterUniqueNames(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("retention-sweep")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	dup := newCronEntry("retention-sweep")
	if err := s.RegisterCron(ctx, dup); !errors.Is(err, jobqueue.ErrDuplicateCron) {
		t.Fatalf("duplicate RegisterCron = %v, want ErrDuplicateCron", err)
	}

	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Name != "retention-sweep" {
		t.Fatalf("Name = %q", got.Name)
	}

	if _, err := s.GetCron(ctx, id.NewCronID()); !errors.Is(err, jobqueue.ErrCronNotFound) {
		t.Fatalf("GetCron missing = %v, want ErrCronNotFound", err)
	}
}

func TestCronLockLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("event-prune")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	acquired, err := s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected first acquire to succeed")
	}

	// Another worker cannot take a held lock.
	acquired, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if acquired {
		t.Fatal("second worker acquired a held lock")
	}

	// The holder can re-acquire (refresh).
	acquired, err = s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !acquired {
		t.Fatal("holder failed to refresh its own lock")
	}

	// Release by a non-holder is a no-op; the lock stays held.
	if err := s.ReleaseCronLock(ctx, e.ID, w2); err != nil {
		t.Fatalf("ReleaseCronLock by non-holder: %v", err)
	}
	acquired, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if acquired {
		t.Fatal("lock was released by a non-holder")
	}

	// Release by the holder frees it.
	if err := s.ReleaseCronLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("ReleaseCronLock: %v", err)
	}
	acquired, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquire to succeed after release")
	}

	if _, err := s.AcquireCronLock(ctx, id.NewCronID(), w1, time.Minute); !errors.Is(err, jobqueue.ErrCronNotFound) {
		t.Fatalf("AcquireCronLock missing = %v, want ErrCronNotFound", err)
	}
}

func TestCronExpiredLockIsAcquirable(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("dlq-purge")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	// A lock with a negative TTL is expired on arrival.
	acquired, err := s.AcquireCronLock(ctx, e.ID, w1, -time.Second)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquire to succeed")
	}

	acquired, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected expired lock to be acquirable by another worker")
	}
}

func TestCronUpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("terminal-retention")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	fired := time.Now().UTC()
	if err := s.UpdateCronLastRun(ctx, e.ID, fired); err != nil {
		t.Fatalf("UpdateCronLastRun: %v", err)
	}
	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fired) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, fired)
	}

	got.Enabled = false
	if err := s.UpdateCronEntry(ctx, got); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	again, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if again.Enabled {
		t.Fatal("expected entry to be disabled")
	}

	if err := s.DeleteCron(ctx, e.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if err := s.DeleteCron(ctx, e.ID); !errors.Is(err, jobqueue.ErrCronNotFound) {
		t.Fatalf("DeleteCron again = %v, want ErrCronNotFound", err)
	}

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries after delete, want 0", len(entries))
	}
}
