// Package cancel implements cooperative and forced cancellation of
// in-flight jobs.
//
// A cancellation request against a pending or retrying job finalizes it
// immediately. Against a processing job, the coordinator first raises the
// cooperative signal on the attempt's token; if the processor does not
// exit within the grace period, the attempt's context is cancelled
// outright and the job is finalized as cancelled regardless.
package cancel

import (
	"context"
	"errors"
	"sync"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// ErrCancelled is returned by processors that observe the cooperative
// signal and exit at a safe checkpoint. The executor recognizes it and
// finalizes the job as cancelled, preserving any partial result the
// processor returned alongside.
var ErrCancelled = errors.New("cancel: job cancelled")

// Reason records why a cancellation was requested.
type Reason string

const (
	// ReasonUserRequested means an operator or the owning user asked for
	// the job to stop.
	ReasonUserRequested Reason = "user-requested"
	// ReasonSuperseded means a newer job made this one obsolete.
	ReasonSuperseded Reason = "superseded"
	// ReasonSystemShutdown means the process is draining for shutdown.
	ReasonSystemShutdown Reason = "system-shutdown"
	// ReasonTimeoutExceeded means the attempt overran its configured
	// timeout. Timeout cancellations flow through the retry decision
	// rather than finalizing the job as cancelled.
	ReasonTimeoutExceeded Reason = "timeout-exceeded"
)

// Method records how a cancellation took effect.
type Method string

const (
	// MethodCooperative means the processor observed the signal and
	// exited on its own.
	MethodCooperative Method = "cooperative"
	// MethodForced means the grace period elapsed and the attempt's
	// context was cancelled from outside.
	MethodForced Method = "forced"
	// MethodImmediate means the job was pending or retrying when the
	// request arrived, so it finalized without any processor involvement.
	MethodImmediate Method = "immediate"
)

// Token is the per-attempt cancellation handle shared between the
// coordinator and the executor. Processors poll Cancelled at safe
// checkpoints or select on Done.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	reason    Reason
	done      chan struct{}
}

// NewToken creates an unsignalled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancelled reports whether the cooperative signal has been raised.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Reason returns the recorded cancellation reason, or "" if the token has
// not been signalled.
func (t *Token) Reason() Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel closed when the cooperative signal is raised.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// signal raises the cooperative flag once. Later signals keep the first
// reason.
func (t *Token) signal(reason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.reason = reason
	close(t.done)
}

type entry struct {
	token *Token
	force context.CancelFunc
}

// Coordinator tracks in-flight attempts so cancellation requests can
// reach the goroutine running them. Safe for concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[id.JobID]*entry
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{inflight: make(map[id.JobID]*entry)}
}

// Track registers an in-flight attempt and returns its cooperative token.
// force is the attempt context's cancel function, invoked when the grace
// period expires.
func (c *Coordinator) Track(jobID id.JobID, force context.CancelFunc) *Token {
	t := NewToken()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[jobID] = &entry{token: t, force: force}
	return t
}

// Untrack removes an attempt once it has finished, whatever the outcome.
func (c *Coordinator) Untrack(jobID id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, jobID)
}

// Inflight reports whether the job currently has a tracked attempt.
func (c *Coordinator) Inflight(jobID id.JobID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[jobID]
	return ok
}

// Signal raises the cooperative flag on the job's in-flight attempt.
// Returns false when the job is not tracked (already finished, or never
// started on this instance).
func (c *Coordinator) Signal(jobID id.JobID, reason Reason) bool {
	c.mu.Lock()
	e, ok := c.inflight[jobID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.token.signal(reason)
	return true
}

// Force cancels the attempt's context outright. Used after the grace
// period expires and for timeout enforcement.
func (c *Coordinator) Force(jobID id.JobID) bool {
	c.mu.Lock()
	e, ok := c.inflight[jobID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if e.force != nil {
		e.force()
	}
	return true
}

// CancelAll raises the cooperative flag on every tracked attempt. Used
// during shutdown draining.
func (c *Coordinator) CancelAll(reason Reason) {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.inflight))
	for _, e := range c.inflight {
		entries = append(entries, e)
	}
	c.mu.Unlock()
	for _, e := range entries {
		e.token.signal(reason)
	}
}
