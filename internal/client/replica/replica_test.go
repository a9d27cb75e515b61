package replica

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "replica.db")
	db, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestReplicaPutAndGet(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	saved, err := rep.Put(ctx, document.Document{
		document.FieldID:      "a",
		document.FieldVersion: int64(0),
		"name":                "first",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(saved.Rev(), "0-"))

	got, err := rep.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", got["name"])
	assert.Equal(t, saved.Rev(), got.Rev())
}

func TestReplicaGetMissing(t *testing.T) {
	rep := openTestDB(t).Collection("things")
	_, err := rep.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReplicaPutConflicts(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	saved, err := rep.Put(ctx, document.Document{document.FieldID: "a"})
	require.NoError(t, err)

	// Stale base revision.
	_, err = rep.Put(ctx, document.Document{document.FieldID: "a", document.FieldRev: "0-stale"})
	assert.ErrorIs(t, err, common.ErrConflict)

	// A base revision on a document that does not exist yet.
	_, err = rep.Put(ctx, document.Document{document.FieldID: "b", document.FieldRev: "0-ghost"})
	assert.ErrorIs(t, err, common.ErrConflict)

	// The correct base revision goes through.
	update := saved.Clone()
	update[document.FieldVersion] = int64(1)
	update["name"] = "second"
	_, err = rep.Put(ctx, update)
	assert.NoError(t, err)
}

func TestReplicaApply(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	err := rep.Apply(ctx, document.Change{
		Seq: 1, ID: "a", Rev: "0-remote",
		Doc: document.Document{document.FieldID: "a", document.FieldRev: "0-remote", "name": "remote"},
	})
	require.NoError(t, err)

	got, err := rep.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "remote", got["name"])

	// Applied rows are clean, not pending.
	pending, err := rep.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplicaApplyKeepsNewerPendingEdit(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	require.NoError(t, rep.Apply(ctx, document.Change{
		Seq: 1, ID: "a", Rev: "0-remote",
		Doc: document.Document{document.FieldID: "a", document.FieldRev: "0-remote", document.FieldVersion: int64(0)},
	}))

	// Local edit on top: version 1, pending.
	base, err := rep.Get(ctx, "a")
	require.NoError(t, err)
	edit := base.Clone()
	edit[document.FieldVersion] = int64(1)
	edit["name"] = "local"
	_, err = rep.Put(ctx, edit)
	require.NoError(t, err)

	// An incoming change at the same version loses to the pending edit.
	require.NoError(t, rep.Apply(ctx, document.Change{
		Seq: 2, ID: "a", Rev: "1-other",
		Doc: document.Document{document.FieldID: "a", document.FieldRev: "1-other", document.FieldVersion: int64(1), "name": "other"},
	}))
	got, err := rep.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "local", got["name"])

	// A strictly newer incoming change wins.
	require.NoError(t, rep.Apply(ctx, document.Change{
		Seq: 3, ID: "a", Rev: "2-newer",
		Doc: document.Document{document.FieldID: "a", document.FieldRev: "2-newer", document.FieldVersion: int64(2), "name": "newer"},
	}))
	got, err = rep.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "newer", got["name"])
}

func TestReplicaApplyHardDelete(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	_, err := rep.Put(ctx, document.Document{document.FieldID: "a"})
	require.NoError(t, err)

	require.NoError(t, rep.Apply(ctx, document.Change{Seq: 2, ID: "a", Rev: "1-x", Deleted: true}))

	_, err = rep.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReplicaMarkSynced(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	saved, err := rep.Put(ctx, document.Document{document.FieldID: "a"})
	require.NoError(t, err)

	pending, err := rep.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, rep.MarkSynced(ctx, "a", saved.Rev()))
	pending, err = rep.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplicaMarkSyncedSkipsNewerEdit(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	saved, err := rep.Put(ctx, document.Document{document.FieldID: "a"})
	require.NoError(t, err)
	oldRev := saved.Rev()

	// A second local edit lands before the push result comes back.
	update := saved.Clone()
	update[document.FieldVersion] = int64(1)
	_, err = rep.Put(ctx, update)
	require.NoError(t, err)

	require.NoError(t, rep.MarkSynced(ctx, "a", oldRev))

	pending, err := rep.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "newer edit must stay pending")
}

func TestReplicaFind(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	for _, d := range []document.Document{
		{document.FieldID: "a", "kind": "x", "n": 2},
		{document.FieldID: "b", "kind": "x", "n": 1},
		{document.FieldID: "c", "kind": "y", "n": 3},
	} {
		_, err := rep.Put(ctx, d)
		require.NoError(t, err)
	}

	docs, err := rep.Find(ctx, document.Query{
		Selector: map[string]any{"kind": "x"},
		Sort:     []string{"n"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID())
	assert.Equal(t, "a", docs[1].ID())
}

func TestReplicaDelete(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	saved, err := rep.Put(ctx, document.Document{document.FieldID: "a"})
	require.NoError(t, err)

	err = rep.Delete(ctx, "a", "0-wrong")
	assert.ErrorIs(t, err, common.ErrConflict)

	err = rep.Delete(ctx, "nope", "0-x")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, rep.Delete(ctx, "a", saved.Rev()))
	_, err = rep.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReplicaCheckpoint(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	things := db.Collection("things")
	other := db.Collection("other")

	seq, err := things.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, things.SetCheckpoint(ctx, 42))

	seq, err = things.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	seq, err = other.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq, "checkpoints are per collection")
}

func TestReplicaDestroy(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	things := db.Collection("things")
	other := db.Collection("other")

	_, err := things.Put(ctx, document.Document{document.FieldID: "a"})
	require.NoError(t, err)
	_, err = other.Put(ctx, document.Document{document.FieldID: "b"})
	require.NoError(t, err)
	require.NoError(t, things.SetCheckpoint(ctx, 7))

	require.NoError(t, things.Destroy(ctx))

	_, err = things.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)
	seq, err := things.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	_, err = other.Get(ctx, "b")
	assert.NoError(t, err, "other collections are untouched")
}

func TestMetadataKV(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	val, err := db.MetaGet(ctx, "auth")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, db.MetaSet(ctx, "auth", []byte(`{"ok":true}`)))
	val, err = db.MetaGet(ctx, "auth")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(val))

	require.NoError(t, db.MetaDelete(ctx, "auth"))
	val, err = db.MetaGet(ctx, "auth")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestReplicaTimesNormalizedOnRead(t *testing.T) {
	ctx := context.Background()
	rep := openTestDB(t).Collection("things")

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := rep.Put(ctx, document.Document{
		document.FieldID:        "a",
		document.FieldUpdatedAt: now,
	})
	require.NoError(t, err)

	got, err := rep.Get(ctx, "a")
	require.NoError(t, err)
	ts, ok := got[document.FieldUpdatedAt].(time.Time)
	require.True(t, ok)
	assert.True(t, ts.Equal(now))
}
