package documents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
)

// BulkResult is the outcome of one document in a bulk write.
type BulkResult struct {
	ID  string
	Doc document.Document
	Err error
}

type subscriber struct {
	collection string
	ch         chan document.Change
}

// Service owns revision assignment and conflict checks for document writes,
// selector queries, the change log, and live change fan-out for feeds.
type Service struct {
	repo Repository
	log  logging.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewService(repo Repository, log logging.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("module", "documents"),
		subs: make(map[*subscriber]struct{}),
	}
}

// Get returns the document by id, tombstones included.
func (s *Service) Get(ctx context.Context, collection, id string) (document.Document, error) {
	row, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return row.Body, nil
}

// Put writes one document. The stored revision must match the document's rev
// or the write is rejected with ErrConflict; a new revision is assigned from
// the document's version. With force set the revision check is skipped and
// the client-supplied revision is stored as-is, which is how offline edits
// are pushed.
func (s *Service) Put(ctx context.Context, collection string, doc document.Document, force bool) (document.Document, error) {
	id := doc.ID()
	if id == "" {
		return nil, common.ValidationErrors{document.FieldID: "is required"}
	}

	doc = doc.Clone().NormalizeTimes()
	baseRev := doc.Rev()

	rev := baseRev
	if !force || rev == "" {
		rev = document.NewRev(doc.Version())
	}
	doc[document.FieldRev] = rev

	row := &Row{
		ID:        id,
		Rev:       rev,
		Version:   doc.Version(),
		Deleted:   doc.Deleted(),
		UpdatedAt: updatedAt(doc),
		Body:      doc,
	}

	seq, err := s.repo.Upsert(ctx, collection, row, baseRev, force)
	if err != nil {
		return nil, err
	}

	s.publish(collection, document.Change{Seq: seq, ID: id, Rev: rev, Deleted: row.Deleted, Doc: doc})
	return doc, nil
}

// BulkDocs writes a batch best-effort: each document is written on its own
// and failures do not stop the rest.
func (s *Service) BulkDocs(ctx context.Context, collection string, docs []document.Document, force bool) []BulkResult {
	results := make([]BulkResult, 0, len(docs))
	for _, doc := range docs {
		saved, err := s.Put(ctx, collection, doc, force)
		results = append(results, BulkResult{ID: doc.ID(), Doc: saved, Err: err})
	}
	return results
}

// Find runs a selector query over the collection.
func (s *Service) Find(ctx context.Context, collection string, q document.Query) ([]document.Document, error) {
	q = q.Normalize()

	docs, err := s.repo.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	var matched []document.Document
	for _, doc := range docs {
		if document.Match(doc, q.Selector) {
			matched = append(matched, doc)
		}
	}
	return q.Apply(matched), nil
}

// Delete removes the document permanently. The change log records the
// deletion so replicas drop their local copies.
func (s *Service) Delete(ctx context.Context, collection, id, rev string) error {
	if rev == "" {
		return fmt.Errorf("document %s: missing rev: %w", id, common.ErrConflict)
	}

	seq, err := s.repo.Delete(ctx, collection, id, rev)
	if err != nil {
		return err
	}

	s.publish(collection, document.Change{Seq: seq, ID: id, Rev: rev, Deleted: true})
	return nil
}

// Changes returns one page of the collection's change log.
func (s *Service) Changes(ctx context.Context, collection string, since int64, limit int) (document.ChangesPage, error) {
	changes, err := s.repo.Changes(ctx, collection, since, limit)
	if err != nil {
		return document.ChangesPage{}, err
	}

	page := document.ChangesPage{Results: changes, LastSeq: since}
	if n := len(changes); n > 0 {
		page.LastSeq = changes[n-1].Seq
	}
	return page, nil
}

// Subscribe registers for live changes of one collection. The returned cancel
// must be called to release the subscription. Slow consumers lose changes
// rather than block writers; feeds recover via the seq-based catch-up.
func (s *Service) Subscribe(collection string) (<-chan document.Change, func()) {
	sub := &subscriber{collection: collection, ch: make(chan document.Change, 64)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}
	return sub.ch, cancel
}

func (s *Service) publish(collection string, ch document.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		select {
		case sub.ch <- ch:
		default:
			s.log.Warn(context.Background(), "dropping change for slow feed subscriber",
				"id", ch.ID, "seq", ch.Seq)
		}
	}
}

func updatedAt(doc document.Document) time.Time {
	if t, ok := doc[document.FieldUpdatedAt].(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}
