package syncer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/docstore/internal/client/remote"
	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
)

type fakeLocal struct {
	mu         sync.Mutex
	checkpoint int64
	applied    []document.Change
	pending    []document.Document
	synced     map[string]string
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{synced: map[string]string{}}
}

func (f *fakeLocal) Checkpoint(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoint, nil
}

func (f *fakeLocal) SetCheckpoint(ctx context.Context, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoint = seq
	return nil
}

func (f *fakeLocal) Apply(ctx context.Context, ch document.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ch)
	return nil
}

func (f *fakeLocal) Pending(ctx context.Context) ([]document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeLocal) MarkSynced(ctx context.Context, id, rev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced[id] = rev
	return nil
}

type fakeRemote struct {
	mu       sync.Mutex
	changes  []document.Change
	bulkDocs [][]document.Document
	results  []remote.BulkResult
	forced   []bool
}

func (f *fakeRemote) Changes(ctx context.Context, since int64, limit int) (document.ChangesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Change
	for _, ch := range f.changes {
		if ch.Seq <= since {
			continue
		}
		out = append(out, ch)
		if len(out) == limit {
			break
		}
	}
	page := document.ChangesPage{Results: out, LastSeq: since}
	if len(out) > 0 {
		page.LastSeq = out[len(out)-1].Seq
	}
	return page, nil
}

func (f *fakeRemote) BulkDocs(ctx context.Context, docs []document.Document, force bool) ([]remote.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkDocs = append(f.bulkDocs, docs)
	f.forced = append(f.forced, force)
	return f.results, nil
}

func (f *fakeRemote) Feed(ctx context.Context, since int64, fn func(document.Change)) error {
	<-ctx.Done()
	return ctx.Err()
}

func change(seq int64, id string) document.Change {
	return document.Change{
		Seq: seq, ID: id, Rev: "1-r",
		Doc: document.Document{document.FieldID: id, document.FieldRev: "1-r"},
	}
}

func TestBootstrapPullsAllPages(t *testing.T) {
	local := newFakeLocal()
	rem := &fakeRemote{
		changes: []document.Change{change(1, "a"), change(2, "b"), change(3, "c")},
	}

	var notified []string
	s := New(local, rem, logging.NewNop(), func(ch document.Change) {
		notified = append(notified, ch.ID)
	})
	s.batch = 2

	require.NoError(t, s.Bootstrap(context.Background()))

	assert.Len(t, local.applied, 3)
	assert.Equal(t, int64(3), local.checkpoint)
	assert.Equal(t, []string{"a", "b", "c"}, notified)
}

func TestBootstrapResumesFromCheckpoint(t *testing.T) {
	local := newFakeLocal()
	local.checkpoint = 2
	rem := &fakeRemote{
		changes: []document.Change{change(1, "a"), change(2, "b"), change(3, "c")},
	}

	s := New(local, rem, logging.NewNop(), nil)
	require.NoError(t, s.Bootstrap(context.Background()))

	require.Len(t, local.applied, 1)
	assert.Equal(t, "c", local.applied[0].ID)
	assert.Equal(t, int64(3), local.checkpoint)
}

func TestBootstrapPushesPendingInForceMode(t *testing.T) {
	local := newFakeLocal()
	local.pending = []document.Document{
		{document.FieldID: "a", document.FieldRev: "2-local"},
		{document.FieldID: "b", document.FieldRev: "0-local"},
	}
	rem := &fakeRemote{
		results: []remote.BulkResult{
			{ID: "a", OK: true, Doc: document.Document{document.FieldID: "a", document.FieldRev: "2-local"}},
			{ID: "b", OK: false, Error: "conflict", Reason: "rejected"},
		},
	}

	s := New(local, rem, logging.NewNop(), nil)
	require.NoError(t, s.Bootstrap(context.Background()))

	require.Len(t, rem.bulkDocs, 1)
	assert.Len(t, rem.bulkDocs[0], 2)
	require.Len(t, rem.forced, 1)
	assert.True(t, rem.forced[0], "pending pushes use force mode")

	// Only acknowledged documents are marked synced.
	assert.Equal(t, map[string]string{"a": "2-local"}, local.synced)
}

func TestBootstrapSkipsPushWithNothingPending(t *testing.T) {
	local := newFakeLocal()
	rem := &fakeRemote{}

	s := New(local, rem, logging.NewNop(), nil)
	require.NoError(t, s.Bootstrap(context.Background()))

	assert.Empty(t, rem.bulkDocs)
}

func TestTriggerPushNeverBlocks(t *testing.T) {
	s := New(newFakeLocal(), &fakeRemote{}, logging.NewNop(), nil)
	for i := 0; i < 10; i++ {
		s.TriggerPush()
	}
}

func TestRunStops(t *testing.T) {
	local := newFakeLocal()
	rem := &fakeRemote{}
	s := New(local, rem, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
}
