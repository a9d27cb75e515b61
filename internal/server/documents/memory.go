package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
)

type memChange struct {
	seq     int64
	id      string
	rev     string
	deleted bool
}

// MemoryRepository is an in-memory Repository used in tests and for running
// the server without Postgres.
type MemoryRepository struct {
	mu      sync.Mutex
	docs    map[string]map[string]*Row
	changes map[string][]memChange
	seq     map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:    make(map[string]map[string]*Row),
		changes: make(map[string][]memChange),
		seq:     make(map[string]int64),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, collection, id string) (*Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.docs[collection][id]
	if !ok {
		return nil, &common.NotFoundError{ID: id}
	}
	return cloneRow(row), nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, collection string, row *Row, baseRev string, force bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.docs[collection][row.ID]
	if !force {
		if baseRev == "" && current != nil {
			return 0, fmt.Errorf("document %s: %w", row.ID, common.ErrConflict)
		}
		if baseRev != "" && (current == nil || current.Rev != baseRev) {
			return 0, fmt.Errorf("document %s: %w", row.ID, common.ErrConflict)
		}
	}

	if r.docs[collection] == nil {
		r.docs[collection] = make(map[string]*Row)
	}
	r.docs[collection][row.ID] = cloneRow(row)

	return r.appendChange(collection, row.ID, row.Rev, row.Deleted), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, collection, id, rev string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.docs[collection][id]
	if !ok {
		return 0, &common.NotFoundError{ID: id}
	}
	if current.Rev != rev {
		return 0, fmt.Errorf("document %s: %w", id, common.ErrConflict)
	}

	delete(r.docs[collection], id)
	return r.appendChange(collection, id, rev, true), nil
}

func (r *MemoryRepository) List(ctx context.Context, collection string) ([]document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var docs []document.Document
	for _, row := range r.docs[collection] {
		docs = append(docs, row.Body.Clone())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs, nil
}

func (r *MemoryRepository) Changes(ctx context.Context, collection string, since int64, limit int) ([]document.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []document.Change
	for _, mc := range r.changes[collection] {
		if mc.seq <= since {
			continue
		}
		ch := document.Change{Seq: mc.seq, ID: mc.id, Rev: mc.rev, Deleted: mc.deleted}
		if row, ok := r.docs[collection][mc.id]; ok {
			ch.Doc = row.Body.Clone()
		}
		changes = append(changes, ch)
		if limit > 0 && len(changes) == limit {
			break
		}
	}
	return changes, nil
}

// appendChange mirrors the Postgres change-log compaction: one entry per
// document, at its latest sequence number. Callers must hold r.mu.
func (r *MemoryRepository) appendChange(collection, id, rev string, deleted bool) int64 {
	log := r.changes[collection]
	for i, mc := range log {
		if mc.id == id {
			log = append(log[:i], log[i+1:]...)
			break
		}
	}

	r.seq[collection]++
	seq := r.seq[collection]
	r.changes[collection] = append(log, memChange{seq: seq, id: id, rev: rev, deleted: deleted})
	return seq
}

func cloneRow(row *Row) *Row {
	c := *row
	c.Body = row.Body.Clone()
	return &c
}
