// Package documents implements server-side document storage: a Repository
// over Postgres (with an in-memory twin for tests) and a Service that owns
// revision assignment, conflict checks, selector queries and the per
// collection change log.
package documents

import (
	"context"
	"time"

	"github.com/offlinekit/docstore/internal/document"
)

// Row is the stored form of one document plus bookkeeping columns. Body is
// the full document including id, rev and timestamps.
type Row struct {
	ID        string
	Rev       string
	Version   int64
	Deleted   bool
	UpdatedAt time.Time
	Body      document.Document
}

// Repository is the storage contract of the document service. Upsert performs
// the revision check and the change-log append atomically.
type Repository interface {
	// Get returns the stored row, tombstones included, or a NotFoundError.
	Get(ctx context.Context, collection, id string) (*Row, error)

	// Upsert writes the row and appends a change-log entry, returning the
	// assigned sequence number. Unless force is set, the write is rejected
	// with ErrConflict when the stored revision differs from baseRev (an
	// empty baseRev means the document must not exist yet).
	Upsert(ctx context.Context, collection string, row *Row, baseRev string, force bool) (int64, error)

	// Delete removes the row permanently and appends a deletion entry to
	// the change log. A revision mismatch is ErrConflict, a missing row a
	// NotFoundError.
	Delete(ctx context.Context, collection, id, rev string) (int64, error)

	// List returns the bodies of all live and soft-deleted documents of the
	// collection.
	List(ctx context.Context, collection string) ([]document.Document, error)

	// Changes returns up to limit change-log entries with seq > since, in
	// sequence order, with bodies attached where the document still exists.
	Changes(ctx context.Context, collection string, since int64, limit int) ([]document.Change, error)
}
