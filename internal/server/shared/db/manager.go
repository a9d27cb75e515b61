// Package db selects and wires the server's storage backend.
package db

import "github.com/offlinekit/docstore/internal/server/documents"

// RepositoryManager owns the storage backend and hands out repositories.
type RepositoryManager interface {
	Documents() documents.Repository
	Close() error
}
