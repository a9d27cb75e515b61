package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/docstore/internal/document"
)

func docs(ids ...string) []document.Document {
	out := make([]document.Document, len(ids))
	for i, id := range ids {
		out[i] = document.Document{document.FieldID: id}
	}
	return out
}

func TestCacheDeduplicatesConcurrentFetches(t *testing.T) {
	c := newQueryCache(time.Minute)

	var calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]document.Document, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return docs("a"), nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([][]document.Document, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.fetch(context.Background(), "k", fn)
			require.NoError(t, err)
			results[i] = got
		}(i)
	}

	// Let every goroutine reach the cache before the fetch settles.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent callers must share one read")
	for i := 0; i < n; i++ {
		assert.Equal(t, "a", results[i][0].ID())
	}
}

func TestCacheServesFreshWithoutRefetch(t *testing.T) {
	c := newQueryCache(time.Minute)

	var calls int32
	fn := func(ctx context.Context) ([]document.Document, error) {
		atomic.AddInt32(&calls, 1)
		return docs("a"), nil
	}

	_, err := c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)
	_, err = c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCacheStaleServedThenRefreshed(t *testing.T) {
	c := newQueryCache(time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	calls := 0
	results := [][]document.Document{docs("old"), docs("new")}
	refreshed := make(chan struct{})
	fn := func(ctx context.Context) ([]document.Document, error) {
		out := results[calls]
		calls++
		if calls == 2 {
			defer close(refreshed)
		}
		return out, nil
	}

	_, err := c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)

	// Age the entry past freshness; the next fetch returns the cached value
	// immediately and revalidates in the background.
	now = now.Add(2 * time.Minute)
	got, err := c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "old", got[0].ID())

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}

	got, err = c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "new", got[0].ID())
	assert.Equal(t, 2, calls)
}

func TestCacheErrorIsNotCached(t *testing.T) {
	c := newQueryCache(time.Minute)

	boom := errors.New("boom")
	calls := 0
	fn := func(ctx context.Context) ([]document.Document, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return docs("a"), nil
	}

	_, err := c.fetch(context.Background(), "k", fn)
	require.ErrorIs(t, err, boom)

	got, err := c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ID())
	assert.Equal(t, 2, calls)
}

func TestCacheRefreshKeepsLastGoodValueOnError(t *testing.T) {
	c := newQueryCache(time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	calls := 0
	done := make(chan struct{})
	fn := func(ctx context.Context) ([]document.Document, error) {
		calls++
		if calls == 2 {
			defer close(done)
			return nil, errors.New("refresh failed")
		}
		return docs("good"), nil
	}

	_, err := c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}

	got, err := c.fetch(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "good", got[0].ID())
}

func TestCachePutSeedsEntryAndNotifies(t *testing.T) {
	c := newQueryCache(time.Minute)

	var notified []document.Document
	cancel := c.subscribe("k", func(value []document.Document) { notified = value })
	defer cancel()

	c.put("k", docs("seeded"))

	got, err := c.fetch(context.Background(), "k", func(ctx context.Context) ([]document.Document, error) {
		t.Fatal("seeded entry must not trigger a fetch")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "seeded", got[0].ID())
	require.Len(t, notified, 1)
	assert.Equal(t, "seeded", notified[0].ID())
}

func TestCacheSweepEvictsByLastUse(t *testing.T) {
	c := newQueryCache(time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.put("old", docs("a"))
	now = now.Add(30 * time.Minute)
	c.put("recent", docs("b"))

	c.sweep(10 * time.Minute)
	assert.Equal(t, 1, c.size())

	// Touching an entry protects it from the next sweep.
	_, err := c.fetch(context.Background(), "recent", nil)
	require.NoError(t, err)
	now = now.Add(5 * time.Minute)
	c.sweep(10 * time.Minute)
	assert.Equal(t, 1, c.size())
}

func TestCacheSweepSkipsInFlightEntries(t *testing.T) {
	c := newQueryCache(time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = c.fetch(context.Background(), "k", func(ctx context.Context) ([]document.Document, error) {
			close(started)
			<-release
			return docs("a"), nil
		})
	}()
	<-started

	now = now.Add(time.Hour)
	c.sweep(time.Minute)
	assert.Equal(t, 1, c.size(), "in-flight entries must survive GC")
	close(release)
}

func TestCacheInvalidate(t *testing.T) {
	c := newQueryCache(time.Minute)
	c.put("k", docs("a"))
	c.invalidate("k")
	assert.Equal(t, 0, c.size())
}
