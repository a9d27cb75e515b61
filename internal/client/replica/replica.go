// Package replica implements the on-device document replica backing
// replicated collections: a SQLite database holding raw document bodies,
// tombstones for soft-deleted documents, a pending flag for writes not yet
// pushed to the remote endpoint, and a metadata KV for sync checkpoints and
// the persisted auth blob.
package replica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/offlinekit/docstore/internal/client/replica/migrations"
	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/dbx"
	"github.com/offlinekit/docstore/internal/document"
)

// DB owns the SQLite handle shared by every collection replica.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the replica database and applies migrations.
// The caller must have registered a driver named "sqlite"
// (blank-import modernc.org/sqlite at the composition root).
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("replica open error: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replica migration error: %w", err)
	}
	return &DB{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (d *DB) Close() error { return d.db.Close() }

// Collection returns the replica handle scoped to one logical collection.
func (d *DB) Collection(name string) *Replica {
	return &Replica{db: d.db, coll: name}
}

// MetaGet reads a metadata value, returning nil when the key is absent.
func (d *DB) MetaGet(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

// MetaSet writes a metadata value.
func (d *DB) MetaSet(ctx context.Context, key string, value []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// MetaDelete removes a metadata key.
func (d *DB) MetaDelete(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

// Replica is one collection's slice of the local database. It implements the
// store backend contract for replicated collections.
type Replica struct {
	db   *sql.DB
	coll string
}

func (r *Replica) checkpointKey() string { return "checkpoint:" + r.coll }

// Get returns the document by id, tombstones included. The caller decides
// whether a soft-deleted document counts as found.
func (r *Replica) Get(ctx context.Context, id string) (document.Document, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, r.coll, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return decodeBody(body)
}

// Put performs a local optimistic write. The incoming document carries its
// base revision (empty for a new document); a stale base fails with
// ErrConflict. The stored document gets a fresh local revision and is marked
// pending until the sync session pushes it.
func (r *Replica) Put(ctx context.Context, doc document.Document) (document.Document, error) {
	id := doc.ID()
	if id == "" {
		return nil, fmt.Errorf("document has no id")
	}

	var currentRev string
	err := r.db.QueryRowContext(ctx,
		`SELECT rev FROM documents WHERE collection = ? AND id = ?`, r.coll, id).Scan(&currentRev)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, fmt.Errorf("failed to read current rev: %w", err)
	}

	if exists && currentRev != doc.Rev() {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrConflict)
	}
	if !exists && doc.Rev() != "" {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrConflict)
	}

	out := doc.Clone()
	out[document.FieldRev] = document.NewRev(out.Version())

	if err := r.upsert(ctx, out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply writes a document observed through the sync feed: revisions and
// versions are taken as-is and the row is stored clean. Hard deletes remove
// the row entirely.
func (r *Replica) Apply(ctx context.Context, ch document.Change) error {
	if ch.Deleted && ch.Doc == nil {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`, r.coll, ch.ID)
		return err
	}

	// A pending local edit at the same or a newer version wins over the
	// incoming change; the next push round resolves it.
	var pending, version int64
	err := r.db.QueryRowContext(ctx,
		`SELECT pending, version FROM documents WHERE collection = ? AND id = ?`,
		r.coll, ch.ID).Scan(&pending, &version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read local row for change %s: %w", ch.ID, err)
	}
	if err == nil && pending == 1 && version >= ch.Doc.Version() {
		return nil
	}
	return r.upsert(ctx, ch.Doc, false)
}

// MarkSynced clears the pending flag after a successful push. The flag is
// cleared only while the row still holds the pushed revision; a newer local
// edit keeps it pending for the next push round.
func (r *Replica) MarkSynced(ctx context.Context, id, rev string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET pending = 0 WHERE collection = ? AND id = ? AND rev = ?`,
		r.coll, id, rev)
	if err != nil {
		return fmt.Errorf("failed to mark document %s synced: %w", id, err)
	}
	return nil
}

func (r *Replica) upsert(ctx context.Context, doc document.Document, pending bool) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	updatedAt := ""
	if t, ok := doc[document.FieldUpdatedAt].(time.Time); ok {
		updatedAt = t.UTC().Format(time.RFC3339Nano)
	}
	p := 0
	if pending {
		p = 1
	}
	del := 0
	if doc.Deleted() {
		del = 1
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, rev, version, deleted, updated_at, pending, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			rev = excluded.rev,
			version = excluded.version,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at,
			pending = excluded.pending,
			body = excluded.body
	`, r.coll, doc.ID(), doc.Rev(), doc.Version(), del, updatedAt, p, string(body))
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID(), err)
	}
	return nil
}

// BulkPut writes each document independently. Failures are collected into a
// single BulkError; successful writes stay committed.
func (r *Replica) BulkPut(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	out := make([]document.Document, 0, len(docs))
	failures := map[string]error{}
	for _, doc := range docs {
		saved, err := r.Put(ctx, doc)
		if err != nil {
			failures[doc.ID()] = err
			continue
		}
		out = append(out, saved)
	}
	if len(failures) > 0 {
		return out, &common.BulkError{Failures: failures}
	}
	return out, nil
}

// Find loads the collection's documents and evaluates the query in memory.
// Replica collections are device-sized; a table scan is acceptable here and
// index enforcement happens a layer up, in Collection.
func (r *Replica) Find(ctx context.Context, q document.Query) ([]document.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ?`, r.coll)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var matched []document.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		if document.Match(doc, q.Selector) {
			matched = append(matched, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	return q.Apply(matched), nil
}

// Delete removes the row permanently. A stale revision fails with ErrConflict.
func (r *Replica) Delete(ctx context.Context, id, rev string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ? AND rev = ?`, r.coll, id, rev)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM documents WHERE collection = ? AND id = ?`, r.coll, id).Scan(&exists); err == nil {
			return fmt.Errorf("document %s: %w", id, common.ErrConflict)
		}
		return &common.NotFoundError{ID: id}
	}
	return nil
}

// Pending returns documents with local changes not yet pushed, tombstones
// included, ordered by id for deterministic batches.
func (r *Replica) Pending(ctx context.Context) ([]document.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND pending = 1 ORDER BY id`, r.coll)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending documents: %w", err)
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Checkpoint returns the last change-feed sequence applied locally.
func (r *Replica) Checkpoint(ctx context.Context) (int64, error) {
	raw, err := metaGet(ctx, r.db, r.checkpointKey())
	if err != nil || raw == nil {
		return 0, err
	}
	var seq int64
	if err := json.Unmarshal(raw, &seq); err != nil {
		return 0, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return seq, nil
}

// SetCheckpoint persists the change-feed position.
func (r *Replica) SetCheckpoint(ctx context.Context, seq int64) error {
	raw, _ := json.Marshal(seq)
	return metaSet(ctx, r.db, r.checkpointKey(), raw)
}

// Destroy removes every local row of the collection, checkpoint included.
// Remote data is untouched.
func (r *Replica) Destroy(ctx context.Context) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ?`, r.coll); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, r.checkpointKey())
		return err
	})
}

func metaGet(ctx context.Context, db dbx.DBTX, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

func metaSet(ctx context.Context, db dbx.DBTX, key string, value []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func decodeBody(body string) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document body: %w", err)
	}
	return doc.NormalizeTimes(), nil
}
