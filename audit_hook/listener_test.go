package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ah "github.com/lazylmf-ai/Easy-e-Invoice-sub002/audit_hook"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
	err    error
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Type:     "bulk-submission",
		Priority: job.PriorityHigh,
		Attempt:  1,
		Config:   job.Config{MaxRetries: 3},
		AppID:    "app_1",
		OrgID:    "org_1",
	}
}

// ── Tests ────────────────────────────────────────────

func TestListener_Name(t *testing.T) {
	l := ah.New(&mockRecorder{})
	if l.Name() != "audit-hook" {
		t.Errorf("Name() = %q, want audit-hook", l.Name())
	}
}

func TestListener_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec)
	j := newTestJob()

	if err := l.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action = %q, want %q", evt.Action, ah.ActionJobEnqueued)
	}
	if evt.Resource != ah.ResourceJob || evt.Category != ah.CategoryJob {
		t.Errorf("Resource/Category = %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, j.ID.String())
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["job_type"] != "bulk-submission" {
		t.Errorf("Metadata[job_type] = %v", evt.Metadata["job_type"])
	}
	if evt.Metadata["org_id"] != "org_1" {
		t.Errorf("Metadata[org_id] = %v", evt.Metadata["org_id"])
	}
}

func TestListener_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec)

	if err := l.OnJobCompleted(context.Background(), newTestJob(), 1500*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt == nil || evt.Action != ah.ActionJobCompleted {
		t.Fatalf("event = %+v, want completed action", evt)
	}
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("Metadata[elapsed_ms] = %v, want 1500", evt.Metadata["elapsed_ms"])
	}
}

func TestListener_JobFailedCarriesError(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec)

	jobErr := errors.New("gateway rejected document")
	if err := l.OnJobFailed(context.Background(), newTestJob(), jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome = %q/%q, want critical/failure", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "gateway rejected document" {
		t.Errorf("Reason = %q", evt.Reason)
	}
	if evt.Metadata["error"] != "gateway rejected document" {
		t.Errorf("Metadata[error] = %v", evt.Metadata["error"])
	}
}

func TestListener_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec)

	next := time.Now().UTC().Add(time.Minute)
	if err := l.OnJobRetrying(context.Background(), newTestJob(), 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt == nil || evt.Action != ah.ActionJobRetrying {
		t.Fatalf("event = %+v, want retrying action", evt)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity = %q, want warning", evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt] = %v, want 2", evt.Metadata["attempt"])
	}
}

func TestListener_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec)

	err := l.OnJobCancelled(context.Background(), newTestJob(),
		cancel.ReasonUserRequested, cancel.MethodCooperative)
	if err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}

	evt := rec.last()
	if evt == nil || evt.Action != ah.ActionJobCancelled {
		t.Fatalf("event = %+v, want cancelled action", evt)
	}
	if evt.Metadata["reason"] != string(cancel.ReasonUserRequested) {
		t.Errorf("Metadata[reason] = %v", evt.Metadata["reason"])
	}
	if evt.Metadata["method"] != string(cancel.MethodCooperative) {
		t.Errorf("Metadata[method] = %v", evt.Metadata["method"])
	}
}

func TestListener_CronFired(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec)

	jobID := id.NewJobID()
	if err := l.OnCronFired(context.Background(), "retention-sweep", jobID); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}

	evt := rec.last()
	if evt == nil || evt.Action != ah.ActionCronFired {
		t.Fatalf("event = %+v, want cron fired action", evt)
	}
	if evt.Resource != ah.ResourceCron || evt.ResourceID != "retention-sweep" {
		t.Errorf("Resource/ResourceID = %q/%q", evt.Resource, evt.ResourceID)
	}
	if evt.Metadata["job_id"] != jobID.String() {
		t.Errorf("Metadata[job_id] = %v", evt.Metadata["job_id"])
	}
}

func TestListener_WithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	l := ah.New(rec, ah.WithActions(ah.ActionJobFailed, ah.ActionJobDLQ))

	ctx := context.Background()
	j := newTestJob()

	if err := l.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := l.OnJobClaimed(ctx, j); err != nil {
		t.Fatalf("OnJobClaimed: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("recorded %d events, want 0 for filtered actions", rec.count())
	}

	if err := l.OnJobDLQ(ctx, j, errors.New("budget exhausted")); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("recorded %d events, want 1", rec.count())
	}
}

// A failing recorder must never propagate into the job lifecycle.
func TestListener_RecorderErrorSwallowed(t *testing.T) {
	rec := &mockRecorder{err: errors.New("audit store down")}
	l := ah.New(rec)

	if err := l.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobEnqueued = %v, want nil despite recorder failure", err)
	}
}

func TestAllActionsCoversLifecycle(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 8 {
		t.Errorf("AllActions len = %d, want 8", len(actions))
	}
}
