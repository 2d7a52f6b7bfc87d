// Package memory provides a fully in-memory Store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cron"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/event"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store   = (*Store)(nil)
	_ dlq.Store   = (*Store)(nil)
	_ event.Store = (*Store)(nil)
	_ cron.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	dlqs   map[string]*dlq.Entry
	events map[string]*event.Event
	crons  map[string]*cron.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		dlqs:   make(map[string]*dlq.Entry),
		events: make(map[string]*event.Event),
		crons:  make(map[string]*cron.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobqueue.ErrJobAlreadyExists
	}
	cp := copyJob(j)
	m.jobs[key] = cp
	return nil
}

// ClaimNextJob atomically claims the next eligible job: highest priority
// tier first, enqueue order within a tier. The whole selection runs under
// one lock so the memory backend never observes claim contention.
func (m *Store) ClaimNextJob(_ context.Context, workerID id.WorkerID, token string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	var next *job.Job
	for _, j := range m.jobs {
		if !j.Status.Claimable() {
			continue
		}
		if j.NotBefore.After(now) {
			continue
		}
		if next == nil || claimBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = job.StatusProcessing
	next.Attempt++
	next.ClaimToken = token
	next.WorkerID = workerID
	started := now
	next.StartedAt = &started
	next.TouchedAt = &started
	next.UpdatedAt = now
	// Progress resets per attempt; the work estimate carries over.
	next.Progress = job.Progress{TotalCount: next.Progress.TotalCount}

	return copyJob(next), nil
}

// claimBefore reports whether a should be claimed before b:
// priority DESC, NotBefore ASC, CreatedAt ASC.
func claimBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.NotBefore.Equal(b.NotBefore) {
		return a.NotBefore.Before(b.NotBefore)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobqueue.ErrJobNotFound
	}
	return copyJob(j), nil
}

// UpdateJob persists changes to an existing job. Terminal statuses are
// never overwritten except idempotently with the same status.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	existing, ok := m.jobs[key]
	if !ok {
		return jobqueue.ErrJobNotFound
	}
	if existing.Status.Terminal() && existing.Status != j.Status {
		return jobqueue.ErrTerminal
	}

	cp := copyJob(j)
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// FinalizeJob persists a transition out of processing, guarded by the
// claim token.
func (m *Store) FinalizeJob(_ context.Context, j *job.Job, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	existing, ok := m.jobs[key]
	if !ok {
		return jobqueue.ErrJobNotFound
	}
	if existing.Status.Terminal() {
		if existing.Status == j.Status {
			return nil // idempotent finalization
		}
		return jobqueue.ErrTerminal
	}
	if existing.ClaimToken != token {
		return jobqueue.ErrNotOwner
	}

	cp := copyJob(j)
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// CancelWaiting finalizes a pending or retrying job as cancelled. The
// status guard and the write happen under one lock, so a concurrent claim
// either wins cleanly or loses cleanly.
func (m *Store) CancelWaiting(_ context.Context, jobID id.JobID, info *job.CancelInfo) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobqueue.ErrJobNotFound
	}
	if !j.Status.Claimable() {
		return nil, jobqueue.ErrInvalidTransition
	}

	cp := *info
	completed := info.RequestedAt
	j.Status = job.StatusCancelled
	j.Cancellation = &cp
	j.CompletedAt = &completed
	j.UpdatedAt = time.Now().UTC()
	return copyJob(j), nil
}

// SaveProgress records a progress report under the claim token. Percent
// never decreases within the attempt.
func (m *Store) SaveProgress(_ context.Context, jobID id.JobID, token string, p job.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobqueue.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return jobqueue.ErrTerminal
	}
	if j.ClaimToken != token {
		return jobqueue.ErrNotOwner
	}

	if p.Percent < j.Progress.Percent {
		p.Percent = j.Progress.Percent
	}
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// TouchJob refreshes the liveness mark on a processing job.
func (m *Store) TouchJob(_ context.Context, jobID id.JobID, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobqueue.ErrJobNotFound
	}
	if j.ClaimToken != token {
		return jobqueue.ErrNotOwner
	}
	j.TouchedAt = &at
	return nil
}

// StaleJobs returns processing jobs whose liveness mark is older than
// the cutoff.
func (m *Store) StaleJobs(_ context.Context, olderThan time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusProcessing {
			continue
		}
		mark := j.TouchedAt
		if mark == nil {
			mark = j.StartedAt
		}
		if mark != nil && mark.Before(olderThan) {
			stale = append(stale, copyJob(j))
		}
	}
	return stale, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusSet := make(map[job.Status]struct{}, len(opts.Statuses))
	for _, s := range opts.Statuses {
		statusSet[s] = struct{}{}
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[j.Status]; !ok {
				continue
			}
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.OrgID != "" && j.OrgID != opts.OrgID {
			continue
		}
		result = append(result, copyJob(j))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.OrgID != "" && j.OrgID != opts.OrgID {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobqueue.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// copyJob returns a deep-enough copy: callers may mutate the returned
// job without racing with the store. Slices are duplicated since the
// queue appends retry records to them.
func copyJob(j *job.Job) *job.Job {
	cp := *j
	if len(j.RetryHistory) > 0 {
		cp.RetryHistory = make([]job.RetryRecord, len(j.RetryHistory))
		copy(cp.RetryHistory, j.RetryHistory)
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Cancellation != nil {
		c := *j.Cancellation
		cp.Cancellation = &c
	}
	return &cp
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead-letter index.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns dead-letter entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		if opts.OrgID != "" && e.OrgID != opts.OrgID {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, jobqueue.ErrDLQNotFound
	}
	return e, nil
}

// ReplayDLQ marks a dead-letter entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return jobqueue.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes dead-letter entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of dead-letter entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[evt.ID.String()] = evt
	return nil
}

// ListEventsByJob returns a job's events in publication order, optionally
// starting after a known event ID.
func (m *Store) ListEventsByJob(_ context.Context, jobID id.JobID, afterID id.EventID) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*event.Event
	for _, evt := range m.events {
		if evt.JobID.String() != jobID.String() {
			continue
		}
		result = append(result, evt)
	}

	// Event IDs are K-sortable, so ID order is publication order.
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})

	if !afterID.IsNil() {
		cut := afterID.String()
		idx := len(result)
		for i, evt := range result {
			if evt.ID.String() > cut {
				idx = i
				break
			}
		}
		result = result[idx:]
	}

	return result, nil
}

// SubscribeEvent waits for an unacked event of the given type.
// Poll-based: loops with 10ms sleep until an event is available or timeout.
func (m *Store) SubscribeEvent(ctx context.Context, eventType string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		m.mu.RLock()
		for _, evt := range m.events {
			if evt.Type == eventType && !evt.Acked {
				m.mu.RUnlock()
				return evt, nil
			}
		}
		m.mu.RUnlock()

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return jobqueue.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}

// PurgeEvents removes events published before the given time.
func (m *Store) PurgeEvents(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, evt := range m.events {
		if evt.CreatedAt.Before(before) {
			delete(m.events, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new schedule entry. Names are unique.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return jobqueue.ErrDuplicateCron
		}
	}

	m.crons[entry.ID.String()] = entry
	return nil
}

// GetCron retrieves a schedule entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, jobqueue.ErrCronNotFound
	}
	return e, nil
}

// ListCrons returns all schedule entries.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// AcquireCronLock attempts to acquire the firing lock for an entry.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, jobqueue.ErrCronNotFound
	}

	now := time.Now().UTC()

	// If already locked by someone else and the lock hasn't expired, fail.
	if e.LockedBy != "" && e.LockedUntil != nil && e.LockedUntil.After(now) {
		if e.LockedBy != workerID.String() {
			return false, nil
		}
	}

	e.LockedBy = workerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the firing lock for an entry.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return jobqueue.ErrCronNotFound
	}

	if e.LockedBy != workerID.String() {
		return nil // not holding the lock; no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// UpdateCronLastRun records when a schedule entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return jobqueue.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry updates a schedule entry (Enabled, NextRunAt, etc.).
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return jobqueue.ErrCronNotFound
	}
	entry.UpdatedAt = time.Now().UTC()
	m.crons[key] = entry
	return nil
}

// DeleteCron removes a schedule entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return jobqueue.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}
