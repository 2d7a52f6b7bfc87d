package notifyhook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/relay"
	revent "github.com/xraph/relay/event"
	relaymem "github.com/xraph/relay/store/memory"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	nh "github.com/lazylmf-ai/Easy-e-Invoice-sub002/notify_hook"
)

// ── Helpers ─────────────────────────────────────────

func newTestRelay(t *testing.T) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.WithStore(relaymem.New()))
	if err != nil {
		t.Fatalf("failed to create relay: %v", err)
	}
	if err := nh.RegisterAll(context.Background(), r); err != nil {
		t.Fatalf("failed to register event types: %v", err)
	}
	return r
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Type:     "bulk-submission",
		Priority: job.PriorityNormal,
		Attempt:  1,
		AppID:    "app_1",
		OrgID:    "org_1",
	}
}

// lastEvent retrieves the most recent event of the given type from the
// relay store. It fails the test if none is found.
func lastEvent(t *testing.T, r *relay.Relay, eventType string) *revent.Event {
	t.Helper()
	events, err := r.Store().ListEvents(context.Background(), revent.ListOpts{
		Type:  eventType,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("no %s event found", eventType)
	}
	return events[0]
}

// ── Tests ───────────────────────────────────────────

func TestListener_Name(t *testing.T) {
	l := nh.New(newTestRelay(t))
	if l.Name() != "notify-hook" {
		t.Errorf("Name() = %q, want notify-hook", l.Name())
	}
}

func TestListener_JobEnqueued(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r)

	if err := l.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := lastEvent(t, r, nh.EventJobEnqueued)
	if evt.TenantID != "org_1" {
		t.Errorf("TenantID = %q, want org_1", evt.TenantID)
	}
}

func TestListener_JobCompleted(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r)

	j := newTestJob()
	j.Result = &job.Result{
		Success:    true,
		Statistics: map[string]int64{"rows": 500},
	}
	if err := l.OnJobCompleted(context.Background(), j, 2*time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := lastEvent(t, r, nh.EventJobCompleted)
	if evt.TenantID != "org_1" {
		t.Errorf("TenantID = %q, want org_1", evt.TenantID)
	}
}

func TestListener_JobFailedAndDLQ(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r)
	jobErr := errors.New("gateway rejected")

	if err := l.OnJobFailed(context.Background(), newTestJob(), jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	lastEvent(t, r, nh.EventJobFailed)

	if err := l.OnJobDLQ(context.Background(), newTestJob(), jobErr); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}
	lastEvent(t, r, nh.EventJobDLQ)
}

func TestListener_JobRetrying(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r)

	if err := l.OnJobRetrying(context.Background(), newTestJob(), 2, time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}
	lastEvent(t, r, nh.EventJobRetrying)
}

func TestListener_JobCancelled(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r)

	err := l.OnJobCancelled(context.Background(), newTestJob(),
		cancel.ReasonUserRequested, cancel.MethodImmediate)
	if err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}
	lastEvent(t, r, nh.EventJobCancelled)
}

func TestListener_CronFired(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r)

	if err := l.OnCronFired(context.Background(), "retention-sweep", id.NewJobID()); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}

	evt := lastEvent(t, r, nh.EventCronFired)
	if evt.TenantID != "" {
		t.Errorf("TenantID = %q, want empty for cron events", evt.TenantID)
	}
}

func TestListener_WithEventsFilters(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r, nh.WithEvents(nh.EventJobFailed))

	if err := l.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	events, err := r.Store().ListEvents(context.Background(), revent.ListOpts{
		Type: nh.EventJobEnqueued,
	})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("filtered event was sent: %d events", len(events))
	}
}

func TestListener_WithPayloadFunc(t *testing.T) {
	r := newTestRelay(t)
	l := nh.New(r, nh.WithPayloadFunc(nh.EventJobEnqueued, func(_ any) (any, error) {
		return map[string]string{"custom": "payload"}, nil
	}))

	if err := l.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	lastEvent(t, r, nh.EventJobEnqueued)
}

func TestAllDefinitionsCoverLifecycle(t *testing.T) {
	defs := nh.AllDefinitions()
	if len(defs) != 8 {
		t.Errorf("AllDefinitions len = %d, want 8", len(defs))
	}
	for _, def := range defs {
		if def.Name == "" || def.Description == "" {
			t.Errorf("definition %q missing name or description", def.Name)
		}
	}
}
