package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events.
// hook.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry firing locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exported for use by engine.RegisterSchedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires due maintenance entries on a tick loop. The per-entry
// store lock is the only coordination between instances: whichever
// scheduler acquires it fires the entry, the rest skip.
type Scheduler struct {
	store    Store
	enqueue  EnqueueFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	// parsedSchedules caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, enqueue EnqueueFunc, emitter Emitter, workerID id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		enqueue:      enqueue,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("maintenance scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list schedule entries error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fireEntry(ctx, entry, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	acquired, err := s.store.AcquireCronLock(ctx, entry.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire schedule lock error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another instance got it.
	}

	jobID, enqErr := s.enqueue(ctx, entry.JobType, entry.Payload, job.WithPriority(job.PriorityLow))
	if enqErr != nil {
		s.logger.Error("schedule enqueue error",
			slog.String("cron_name", entry.Name),
			slog.String("job_type", entry.JobType),
			slog.String("error", enqErr.Error()),
		)
		s.releaseLock(ctx, entry.ID)
		return
	}

	if updateErr := s.store.UpdateCronLastRun(ctx, entry.ID, now); updateErr != nil {
		s.logger.Error("update schedule last run error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	// Compute and persist NextRunAt.
	sched, parseErr := s.getOrParseSchedule(entry.Schedule)
	if parseErr != nil {
		s.logger.Error("parse schedule expression error",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
		if updateErr := s.store.UpdateCronEntry(ctx, entry); updateErr != nil {
			s.logger.Error("update schedule next run error",
				slog.String("cron_id", entry.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
	}

	s.releaseLock(ctx, entry.ID)

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, jobID)
	}

	s.logger.Info("schedule fired",
		slog.String("cron_name", entry.Name),
		slog.String("job_type", entry.JobType),
		slog.String("job_id", jobID.String()),
	)
}

func (s *Scheduler) releaseLock(ctx context.Context, entryID id.CronID) {
	if err := s.store.ReleaseCronLock(ctx, entryID, s.workerID); err != nil {
		s.logger.Error("release schedule lock error",
			slog.String("cron_id", entryID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
