package store

import (
	"context"

	"github.com/offlinekit/docstore/internal/document"
)

// Backend is the canonical document handle a Store reads and writes through.
// Replicated collections use the local replica; remote-only collections (and
// administrator sessions) use the remote endpoint directly.
type Backend interface {
	// Get returns the document by id, soft-deleted documents included.
	Get(ctx context.Context, id string) (document.Document, error)

	// Put writes one document, checking its base revision, and returns the
	// stored document carrying the newly assigned revision token.
	Put(ctx context.Context, doc document.Document) (document.Document, error)

	// BulkPut writes a batch best-effort: succeeded documents stay committed
	// and failures are reported through a common.BulkError.
	BulkPut(ctx context.Context, docs []document.Document) ([]document.Document, error)

	// Find evaluates a selector query.
	Find(ctx context.Context, q document.Query) ([]document.Document, error)

	// Delete removes the document permanently.
	Delete(ctx context.Context, id, rev string) error
}

// User is the narrow current-user contract the store needs: privileged users
// bypass local replication entirely.
type User interface {
	IsAdmin() bool
}
