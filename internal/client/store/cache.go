package store

import (
	"context"
	"sync"
	"time"

	"github.com/offlinekit/docstore/internal/document"
)

type entryState int

const (
	stateFetching entryState = iota
	stateReady
	stateErrored
)

// cacheEntry holds one cached query result. At most one fetch is ever in
// flight per entry; concurrent callers share the settled channel.
type cacheEntry struct {
	state      entryState
	value      []document.Document
	err        error
	settled    chan struct{}
	refreshing bool
	updatedAt  time.Time // when the entry last settled, drives staleness
	lastUsed   time.Time // when the entry was last touched, drives GC
}

// queryCache implements the race-deduplicated, TTL-expiring result cache.
// Keys are canonical query serializations; values are raw document slices.
type queryCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	subs     map[string]map[int]func([]document.Document)
	nextSub  int
	freshFor time.Duration
	now      func() time.Time
}

func newQueryCache(freshFor time.Duration) *queryCache {
	return &queryCache{
		entries:  map[string]*cacheEntry{},
		subs:     map[string]map[int]func([]document.Document){},
		freshFor: freshFor,
		now:      time.Now,
	}
}

type fetchFunc func(ctx context.Context) ([]document.Document, error)

// fetch resolves key through the cache:
//
//   - in-flight entry: wait for the shared result, no second read
//   - fresh entry: return as-is
//   - stale entry: return immediately, refresh in the background
//   - miss or previous error: fetch, sharing the result with any caller that
//     arrives before it settles
//
// The underlying fetch always runs to completion and updates the cache even
// if the original caller's context is canceled meanwhile; cache warmth is
// deliberately favored over work avoidance.
func (c *queryCache) fetch(ctx context.Context, key string, fn fetchFunc) ([]document.Document, error) {
	c.mu.Lock()
	e, ok := c.entries[key]

	if ok {
		switch e.state {
		case stateFetching:
			settled := e.settled
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-settled:
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			e.lastUsed = c.now()
			return e.value, e.err

		case stateReady:
			e.lastUsed = c.now()
			value := e.value
			stale := c.now().Sub(e.updatedAt) > c.freshFor
			if stale && !e.refreshing {
				e.refreshing = true
				go c.refresh(context.WithoutCancel(ctx), key, fn)
			}
			c.mu.Unlock()
			return value, nil
		}
		// stateErrored falls through to a fresh fetch.
	}

	e = &cacheEntry{
		state:    stateFetching,
		settled:  make(chan struct{}),
		lastUsed: c.now(),
	}
	c.entries[key] = e
	c.mu.Unlock()

	value, err := fn(context.WithoutCancel(ctx))

	c.mu.Lock()
	subs := c.settle(key, e, value, err)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(value)
	}
	return value, err
}

// refresh re-runs the fetch for a stale entry while callers keep being served
// the previous value.
func (c *queryCache) refresh(ctx context.Context, key string, fn fetchFunc) {
	value, err := fn(ctx)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refreshing = false
	if err != nil {
		// Keep serving the last good value; the error will surface on the
		// next explicit fetch after the entry ages out.
		c.mu.Unlock()
		return
	}
	e.state = stateReady
	e.value = value
	e.err = nil
	e.updatedAt = c.now()
	e.lastUsed = c.now()
	subs := c.subscribers(key)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// settle records a fetch outcome and returns the subscribers to notify once
// the lock is released. Must be called with the lock held.
func (c *queryCache) settle(key string, e *cacheEntry, value []document.Document, err error) []func([]document.Document) {
	now := c.now()
	if err != nil {
		e.state = stateErrored
		e.err = err
	} else {
		e.state = stateReady
		e.value = value
		e.err = nil
	}
	e.updatedAt = now
	e.lastUsed = now
	close(e.settled)

	if err != nil {
		return nil
	}
	return c.subscribers(key)
}

// put seeds or eagerly refreshes an entry with a known-good value, e.g. after
// a write that touches the entry's id.
func (c *queryCache) put(key string, value []document.Document) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.state == stateFetching {
		// The in-flight fetch will settle with at-least-as-fresh data.
		c.mu.Unlock()
		return
	}
	if !ok {
		e = &cacheEntry{settled: make(chan struct{})}
		close(e.settled)
		c.entries[key] = e
	}
	e.state = stateReady
	e.value = value
	e.err = nil
	e.updatedAt = c.now()
	e.lastUsed = c.now()
	subs := c.subscribers(key)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// invalidate drops an entry unless a fetch is in flight.
func (c *queryCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.state != stateFetching {
		delete(c.entries, key)
	}
}

// subscribe registers a push consumer for one cache key. The callback fires
// whenever the key settles with a new value.
func (c *queryCache) subscribe(key string, fn func([]document.Document)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	if c.subs[key] == nil {
		c.subs[key] = map[int]func([]document.Document){}
	}
	c.subs[key][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[key], id)
		if len(c.subs[key]) == 0 {
			delete(c.subs, key)
		}
	}
}

// subscribers must be called with the lock held.
func (c *queryCache) subscribers(key string) []func([]document.Document) {
	m := c.subs[key]
	if len(m) == 0 {
		return nil
	}
	out := make([]func([]document.Document), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

// sweep evicts entries untouched for longer than maxAge. In-flight entries
// are never evicted.
func (c *queryCache) sweep(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-maxAge)
	for key, e := range c.entries {
		if e.state == stateFetching {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}

func (c *queryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
