// Package query provides the UI-facing helpers over the document store:
// keyed fetch de-duplication with caching and invalidation, and re-entrancy
// guarded mutations. Instead of suspense-style control flow, results carry
// an explicit Loading/Ready/Failed state that callers can poll or await.
package query

import (
	"context"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle of an asynchronous result.
type State int

const (
	Loading State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is a shared asynchronous value. Concurrent callers asking for the
// same key receive the same Result instance.
type Result struct {
	mu      sync.Mutex
	state   State
	value   any
	err     error
	settled chan struct{}
}

func newResult() *Result {
	return &Result{state: Loading, settled: make(chan struct{})}
}

// State returns the current lifecycle state.
func (r *Result) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Value returns the settled value and error. While loading it returns the
// zero value; check State or use Wait for certainty.
func (r *Result) Value() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err
}

// Wait blocks until the result settles or the context is canceled.
func (r *Result) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.settled:
	}
	return r.Value()
}

func (r *Result) settle(value any, err error) {
	r.mu.Lock()
	r.value = value
	r.err = err
	if err != nil {
		r.state = Failed
	} else {
		r.state = Ready
	}
	first := r.settled
	r.mu.Unlock()

	select {
	case <-first:
	default:
		close(first)
	}
}

// Fetcher resolves a query key to a value.
type Fetcher func(ctx context.Context) (any, error)

// Runner binds fetchers to cache keys: concurrent callers with an identical
// key share one fetch, later callers are served from cache until the key is
// invalidated.
type Runner struct {
	mu      sync.Mutex
	results map[string]*Result
	tickers map[string]chan struct{}
}

func NewRunner() *Runner {
	return &Runner{
		results: map[string]*Result{},
		tickers: map[string]chan struct{}{},
	}
}

// Do returns the shared Result for key, starting the fetch if the key is new.
// The fetch runs to completion even if every interested caller goes away.
func (q *Runner) Do(ctx context.Context, key string, fetch Fetcher) *Result {
	q.mu.Lock()
	if r, ok := q.results[key]; ok {
		q.mu.Unlock()
		return r
	}
	r := newResult()
	q.results[key] = r
	q.mu.Unlock()

	go func() {
		value, err := fetch(context.WithoutCancel(ctx))
		r.settle(value, err)
	}()
	return r
}

// Invalidate drops every cached result whose key starts with prefix, so the
// next Do triggers a fresh fetch.
func (q *Runner) Invalidate(prefix string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key := range q.results {
		if strings.HasPrefix(key, prefix) {
			delete(q.results, key)
		}
	}
}

// StartRefetch re-runs the fetch on a fixed interval, updating the shared
// Result in place. The returned cancel stops the loop; Close stops all.
func (q *Runner) StartRefetch(key string, interval time.Duration, fetch Fetcher) (cancel func()) {
	stop := make(chan struct{})
	q.mu.Lock()
	if prev, ok := q.tickers[key]; ok {
		close(prev)
	}
	q.tickers[key] = stop
	q.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				value, err := fetch(context.Background())
				q.mu.Lock()
				r, ok := q.results[key]
				q.mu.Unlock()
				if !ok {
					r = newResult()
					q.mu.Lock()
					q.results[key] = r
					q.mu.Unlock()
				}
				r.settle(value, err)
			}
		}
	}()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if cur, ok := q.tickers[key]; ok && cur == stop {
			close(cur)
			delete(q.tickers, key)
		}
	}
}

// Close stops every interval refetch.
func (q *Runner) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, stop := range q.tickers {
		close(stop)
		delete(q.tickers, key)
	}
}
