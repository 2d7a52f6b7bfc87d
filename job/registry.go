package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Runtime is a type-erased processor that accepts raw JSON payloads.
// A typed Processor[T] is converted to a Runtime at registration time by
// closing over JSON unmarshal + the typed functions.
type Runtime struct {
	Type          string
	Validate      func(payload []byte) error
	Estimate      func(payload []byte) time.Duration
	EstimateCount func(payload []byte) int64
	Execute       func(ctx context.Context, exec *Execution, payload []byte) (*Result, error)
	Defaults      Options
}

// Registry maps job types to type-erased processor runtimes.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]*Runtime
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]*Runtime),
	}
}

// RegisterProcessor registers a typed processor. The generic functions are
// wrapped in closures that JSON-unmarshal the payload into T before
// delegating.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterProcessor[T any](r *Registry, p *Processor[T]) {
	decode := func(payload []byte) (T, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return t, fmt.Errorf("unmarshal payload for job type %q: %w", p.Type, err)
			}
		}
		return t, nil
	}

	rt := &Runtime{
		Type:     p.Type,
		Defaults: p.Defaults,
		Execute: func(ctx context.Context, exec *Execution, payload []byte) (*Result, error) {
			t, err := decode(payload)
			if err != nil {
				return nil, err
			}
			return p.Execute(ctx, exec, t)
		},
	}
	if p.Validate != nil {
		rt.Validate = func(payload []byte) error {
			t, err := decode(payload)
			if err != nil {
				return err
			}
			return p.Validate(t)
		}
	}
	if p.Estimate != nil {
		rt.Estimate = func(payload []byte) time.Duration {
			t, err := decode(payload)
			if err != nil {
				return 0
			}
			return p.Estimate(t)
		}
	}
	if p.EstimateCount != nil {
		rt.EstimateCount = func(payload []byte) int64 {
			t, err := decode(payload)
			if err != nil {
				return 0
			}
			return p.EstimateCount(t)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.Type] = rt
}

// Get returns the runtime for the given job type.
// Returns false if no processor is registered.
func (r *Registry) Get(jobType string) (*Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.processors[jobType]
	return rt, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	return types
}
