package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/queue"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/retry"
)

// AdmissionGate enforces per-type and per-org rate limiting and
// concurrency. The pool calls Acquire between claim and execution and
// Release after the attempt finishes.
type AdmissionGate interface {
	// Acquire checks rate limits and concurrency for the type/org
	// combination. Returns true if the job is allowed to proceed.
	Acquire(jobType, orgID string) bool
	// Release decrements the active count for the type/org pair.
	Release(jobType, orgID string)
}

// activeEntry tracks one in-flight attempt on this pool.
type activeEntry struct {
	token     string
	jobType   string
	orgID     string
	timeout   time.Duration
	startedAt time.Time
}

// Pool manages a fixed set of worker slot goroutines that claim jobs
// through the queue and execute them through the Executor. The slot
// count is the hard upper bound on concurrent processing.
type Pool struct {
	queue    *queue.Queue
	executor *Executor
	logger   *slog.Logger
	workerID id.WorkerID

	concurrency  int
	pollInterval time.Duration

	// Liveness / recovery configuration.
	heartbeatInterval   time.Duration
	healthCheckInterval time.Duration
	staleClaimThreshold time.Duration

	admission AdmissionGate

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[id.JobID]activeEntry
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker slots.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle slots poll for new jobs. Slots
// also wake immediately on the queue's wake signal.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool refreshes the liveness
// mark on the jobs it holds. A zero value disables liveness marking.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithHealthCheckInterval sets how often the pool scans for abandoned
// claims. A zero value disables the health check.
func WithHealthCheckInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.healthCheckInterval = d }
}

// WithStaleClaimThreshold sets how long a processing job may go without
// a liveness mark before its claim is recovered.
func WithStaleClaimThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleClaimThreshold = d }
}

// WithAdmission sets the admission gate for rate limiting and
// per-type/per-org concurrency control.
func WithAdmission(a AdmissionGate) PoolOption {
	return func(p *Pool) { p.admission = a }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:        q,
		executor:     executor,
		logger:       logger,
		workerID:     id.NewWorkerID(),
		concurrency:  3,
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
		active:       make(map[id.JobID]activeEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker slots. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.slotLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.touchLoop()
	}

	if p.healthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthCheckLoop()
	}

	return nil
}

// Stop drains the pool. New claims stop immediately; in-flight attempts
// get the cooperative shutdown signal and run until done or until the
// context deadline, at which point their attempt contexts are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	p.queue.Coordinator().CancelAll(cancel.ReasonSystemShutdown)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, forcing active attempts")
		p.forceActive()
		p.wg.Wait()
	}

	return nil
}

// slotLoop is run by each worker slot goroutine.
func (p *Pool) slotLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, token, err := p.queue.ClaimNext(context.Background(), p.workerID)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.idle()
			continue
		}

		if j == nil {
			p.idle()
			continue
		}

		// Admission runs after claim so the store stays the single
		// arbiter of ordering. A deferred job goes back to pending
		// with its attempt handed back.
		if p.admission != nil && !p.admission.Acquire(j.Type, j.OrgID) {
			if reqErr := p.queue.Requeue(context.Background(), j, token, p.pollInterval); reqErr != nil {
				p.logger.Error("failed to requeue rate-limited job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", reqErr.Error()),
				)
			}
			p.idle()
			continue
		}

		p.runAttempt(j, token)
	}
}

// runAttempt executes one claimed job with full tracking: the attempt
// context is registered with the cancellation coordinator so Cancel and
// forced shutdown can reach it, and the active map feeds the touch loop.
func (p *Pool) runAttempt(j *job.Job, token string) {
	ctx, cancelAttempt := context.WithCancel(context.Background())
	defer cancelAttempt()

	cancelTok := p.queue.Coordinator().Track(j.ID, cancelAttempt)
	p.track(j.ID, activeEntry{
		token:     token,
		jobType:   j.Type,
		orgID:     j.OrgID,
		timeout:   j.Config.Timeout,
		startedAt: time.Now().UTC(),
	})

	execErr := p.executor.Execute(ctx, j, token, cancelTok)
	if execErr != nil {
		p.logger.Debug("attempt outcome recording failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrack(j.ID)
	p.queue.Coordinator().Untrack(j.ID)

	if p.admission != nil {
		p.admission.Release(j.Type, j.OrgID)
	}
}

// idle waits for the poll interval, a wake signal, or shutdown.
func (p *Pool) idle() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.queue.Wake():
	case <-p.stopCh:
	}
}

// touchLoop periodically refreshes the liveness mark for all attempts
// this pool is running.
func (p *Pool) touchLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.touchActive()
		}
	}
}

func (p *Pool) touchActive() {
	p.activeMu.Lock()
	type touch struct {
		jobID id.JobID
		token string
	}
	touches := make([]touch, 0, len(p.active))
	for jobID, entry := range p.active {
		touches = append(touches, touch{jobID, entry.token})
	}
	p.activeMu.Unlock()

	now := time.Now().UTC()
	for _, t := range touches {
		if err := p.queue.Store().TouchJob(context.Background(), t.jobID, t.token, now); err != nil {
			p.logger.Warn("liveness touch failed",
				slog.String("job_id", t.jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// healthCheckLoop periodically sweeps this pool's own slots for attempts
// that overran their configured timeout, and recovers jobs whose worker
// died without releasing the claim: processing jobs with a liveness mark
// older than the stale threshold go back to pending with the attempt
// handed back.
func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepTimeouts()
			if p.staleClaimThreshold > 0 {
				p.recoverStaleClaims()
			}
		}
	}
}

// sweepTimeouts raises the synthetic timeout cancellation on attempts that
// overran Config.Timeout. The attempt deadline usually fires in-process
// first; the sweep backstops processors that ignore their context. The job
// is finalized through the retry decision, so the overrun ends in retrying
// or failed, and the abandoned attempt's own late finalization is rejected
// on the stale claim token.
func (p *Pool) sweepTimeouts() {
	now := time.Now().UTC()

	p.activeMu.Lock()
	type overrun struct {
		jobID   id.JobID
		token   string
		timeout time.Duration
	}
	var overruns []overrun
	for jobID, entry := range p.active {
		if entry.timeout > 0 && now.Sub(entry.startedAt) > entry.timeout {
			overruns = append(overruns, overrun{jobID, entry.token, entry.timeout})
		}
	}
	p.activeMu.Unlock()

	ctx := context.Background()
	for _, o := range overruns {
		p.queue.Coordinator().Signal(o.jobID, cancel.ReasonTimeoutExceeded)
		p.queue.Coordinator().Force(o.jobID)

		j, err := p.queue.GetStatus(ctx, o.jobID)
		if err != nil {
			p.logger.Error("timeout sweep lookup failed",
				slog.String("job_id", o.jobID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		failErr := p.queue.Fail(ctx, j, o.token, retry.Transientf("attempt exceeded timeout %s", o.timeout))
		if failErr != nil && !errors.Is(failErr, jobqueue.ErrNotOwner) && !errors.Is(failErr, jobqueue.ErrTerminal) {
			p.logger.Error("timeout finalization failed",
				slog.String("job_id", o.jobID.String()),
				slog.String("error", failErr.Error()),
			)
			continue
		}

		p.untrack(o.jobID)
		p.logger.Warn("attempt exceeded timeout",
			slog.String("job_id", o.jobID.String()),
			slog.Duration("timeout", o.timeout),
		)
	}
}

func (p *Pool) recoverStaleClaims() {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-p.staleClaimThreshold)

	stale, err := p.queue.Store().StaleJobs(ctx, cutoff)
	if err != nil {
		p.logger.Error("stale claim scan failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		// Skip jobs this pool is actively running: a long attempt with a
		// wedged touch loop is still alive.
		p.activeMu.Lock()
		_, mine := p.active[j.ID]
		p.activeMu.Unlock()
		if mine {
			continue
		}

		if reqErr := p.queue.Requeue(ctx, j, j.ClaimToken, 0); reqErr != nil {
			p.logger.Error("stale claim recovery failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", reqErr.Error()),
			)
			continue
		}

		p.logger.Info("recovered stale claim",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
	}
}

func (p *Pool) track(jobID id.JobID, e activeEntry) {
	p.activeMu.Lock()
	p.active[jobID] = e
	p.activeMu.Unlock()
}

func (p *Pool) untrack(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) forceActive() {
	p.activeMu.Lock()
	jobIDs := make([]id.JobID, 0, len(p.active))
	for jobID := range p.active {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobID := range jobIDs {
		p.logger.Warn("forcing active attempt", slog.String("job_id", jobID.String()))
		p.queue.Coordinator().Force(jobID)
	}
}
