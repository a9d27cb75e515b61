package db

import "github.com/offlinekit/docstore/internal/server/documents"

// MemoryRepositoryManager backs the server with the in-memory document
// repository. Data does not survive a restart; meant for tests and demos.
type MemoryRepositoryManager struct {
	documents *documents.MemoryRepository
}

func NewMemoryRepositoryManager() RepositoryManager {
	return &MemoryRepositoryManager{documents: documents.NewMemoryRepository()}
}

func (m *MemoryRepositoryManager) Documents() documents.Repository {
	return m.documents
}

func (m *MemoryRepositoryManager) Close() error {
	return nil
}
