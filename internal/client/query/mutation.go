package query

import (
	"context"
	"sync"

	"github.com/offlinekit/docstore/internal/common"
)

// Mutation wraps an imperative write with loading/data/error bookkeeping.
// Invoking Run while a prior call on the same instance is still in flight
// fails fast with ErrMutationInFlight rather than queuing.
type Mutation struct {
	mu       sync.Mutex
	inFlight bool
	data     any
	err      error
}

// Run executes fn, guarding against re-entrant calls.
func (m *Mutation) Run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil, common.ErrMutationInFlight
	}
	m.inFlight = true
	m.mu.Unlock()

	data, err := fn(ctx)

	m.mu.Lock()
	m.inFlight = false
	m.data = data
	m.err = err
	m.mu.Unlock()
	return data, err
}

// IsLoading reports whether a call is in flight.
func (m *Mutation) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Data returns the last successful result.
func (m *Mutation) Data() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Err returns the last failure.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
