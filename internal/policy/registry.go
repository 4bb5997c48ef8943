package policy

import (
	"context"
	"sync"
)

// Registry holds one Engine per signed-in user.
type Registry struct {
	store  PlanStore
	matrix Matrix
	opts   Options

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewRegistry(planStore PlanStore, matrix Matrix, opts Options) *Registry {
	return &Registry{
		store:   planStore,
		matrix:  matrix,
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for userID, loading a new session on first use.
func (r *Registry) Get(ctx context.Context, userID string) (*Engine, error) {
	r.mu.Lock()
	e, ok := r.engines[userID]
	r.mu.Unlock()
	if ok {
		return e, nil
	}

	e = NewEngine(r.store, r.matrix, r.opts)
	if err := e.Load(ctx, userID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have loaded the same user meanwhile; keep the first.
	if existing, ok := r.engines[userID]; ok {
		return existing, nil
	}
	r.engines[userID] = e
	return e, nil
}

// Drop clears and forgets the session of userID.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	e, ok := r.engines[userID]
	delete(r.engines, userID)
	r.mu.Unlock()
	if ok {
		e.Clear()
	}
}
