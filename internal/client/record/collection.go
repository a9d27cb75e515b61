package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offlinekit/docstore/internal/client/store"
	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
)

// ErrUnindexedField rejects selectors on fields missing from the entity's
// declared index list, so queries cannot scan on unindexed fields.
var ErrUnindexedField = errors.New("field is not indexed")

// Config declares a record type's binding: its type discriminator and the
// fields that may appear in selectors.
type Config struct {
	Type    string
	Indexes []string
}

// Collection is the typed facade over one Store for one record type. It is
// constructed with an explicit Store reference; nothing reaches into shared
// module state.
type Collection[T Entity] struct {
	store   *store.Store
	cfg     Config
	factory func() T
	allowed map[string]struct{}
}

// NewCollection binds a record type to a store. factory must return a fresh
// zero record (a pointer type).
func NewCollection[T Entity](s *store.Store, cfg Config, factory func() T) *Collection[T] {
	allowed := map[string]struct{}{
		document.FieldID:        {},
		document.FieldType:      {},
		document.FieldDeletedAt: {},
	}
	for _, f := range cfg.Indexes {
		allowed[f] = struct{}{}
	}
	return &Collection[T]{store: s, cfg: cfg, factory: factory, allowed: allowed}
}

// Store exposes the underlying store, e.g. for query helpers.
func (c *Collection[T]) Store() *store.Store { return c.store }

func (c *Collection[T]) toDocument(rec T) (document.Document, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	doc[document.FieldType] = c.cfg.Type
	return doc.NormalizeTimes(), nil
}

func (c *Collection[T]) fromDocument(doc document.Document, rec T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	rec.Metadata().markClean(canonical(doc))
	return nil
}

func canonical(doc document.Document) []byte {
	b, _ := json.Marshal(doc)
	return b
}

func (c *Collection[T]) decodeAll(docs []document.Document) ([]T, error) {
	out := make([]T, len(docs))
	for i, doc := range docs {
		rec := c.factory()
		if err := c.fromDocument(doc, rec); err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// checkSelector enforces the indexed-field guard before any store operation
// is issued.
func (c *Collection[T]) checkSelector(selector map[string]any) error {
	for field := range selector {
		if _, ok := c.allowed[field]; !ok {
			return fmt.Errorf("%w: %q on %s", ErrUnindexedField, field, c.cfg.Type)
		}
	}
	return nil
}

func (c *Collection[T]) scope(q document.Query) (document.Query, error) {
	if err := c.checkSelector(q.Selector); err != nil {
		return document.Query{}, err
	}
	sel := make(map[string]any, len(q.Selector)+1)
	for k, v := range q.Selector {
		sel[k] = v
	}
	sel[document.FieldType] = c.cfg.Type
	q.Selector = sel
	return q, nil
}

// Find runs a type-scoped query.
func (c *Collection[T]) Find(ctx context.Context, q document.Query) ([]T, error) {
	scoped, err := c.scope(q)
	if err != nil {
		return nil, err
	}
	docs, err := c.store.Find(ctx, scoped)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs)
}

// FindOne returns the first match or ErrNotFound.
func (c *Collection[T]) FindOne(ctx context.Context, q document.Query) (T, error) {
	var zero T
	scoped, err := c.scope(q)
	if err != nil {
		return zero, err
	}
	doc, err := c.store.FindOne(ctx, scoped)
	if err != nil {
		return zero, err
	}
	rec := c.factory()
	if err := c.fromDocument(doc, rec); err != nil {
		return zero, err
	}
	return rec, nil
}

// Get fetches one record by id. Documents of another type count as not
// found.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := c.store.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	if doc.Type() != c.cfg.Type {
		return zero, &common.NotFoundError{ID: id}
	}
	rec := c.factory()
	if err := c.fromDocument(doc, rec); err != nil {
		return zero, err
	}
	return rec, nil
}

// Save persists the record if it changed since its last load or save: a
// clean record is a no-op. Validate runs before every actual write and a
// failure prevents the write entirely. On success the store-assigned fields
// (id, rev, version, timestamps) are folded back into the record.
func (c *Collection[T]) Save(ctx context.Context, rec T) error {
	doc, err := c.toDocument(rec)
	if err != nil {
		return err
	}
	if !rec.Metadata().isDirty(canonical(doc)) {
		return nil
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	saved, err := c.store.Set(ctx, doc)
	if err != nil {
		return err
	}
	return c.fromDocument(saved, rec)
}

// CreateOne saves a fresh record built from the given value.
func (c *Collection[T]) CreateOne(ctx context.Context, rec T) (T, error) {
	if err := c.Save(ctx, rec); err != nil {
		var zero T
		return zero, err
	}
	return rec, nil
}

// Create saves a batch of fresh records, stopping at the first failure.
func (c *Collection[T]) Create(ctx context.Context, recs []T) ([]T, error) {
	for _, rec := range recs {
		if err := c.Save(ctx, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Delete soft-deletes the given records. They stay addressable by id through
// explicit deletedAt queries but vanish from default queries and Get.
func (c *Collection[T]) Delete(ctx context.Context, recs ...T) error {
	for _, rec := range recs {
		doc, err := c.toDocument(rec)
		if err != nil {
			return err
		}
		deleted, err := c.store.Delete(ctx, doc)
		if err != nil {
			return err
		}
		if err := c.fromDocument(deleted, rec); err != nil {
			return err
		}
	}
	return nil
}

// DeletePermanent irrevocably removes the given records.
func (c *Collection[T]) DeletePermanent(ctx context.Context, recs ...T) error {
	for _, rec := range recs {
		doc, err := c.toDocument(rec)
		if err != nil {
			return err
		}
		if err := c.store.DeletePermanent(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Refresh discards in-memory field values and re-reads the canonical record
// from the store by id.
func (c *Collection[T]) Refresh(ctx context.Context, rec T) error {
	doc, err := c.store.Get(ctx, rec.Metadata().ID)
	if err != nil {
		return err
	}
	return c.fromDocument(doc, rec)
}

// Subscribe registers a live change callback for a set of record ids and
// returns a cancel handle.
func (c *Collection[T]) Subscribe(ids []string, fn func(T)) (cancel func(), err error) {
	return c.store.Subscribe(ids, func(doc document.Document) {
		rec := c.factory()
		if err := c.fromDocument(doc, rec); err != nil {
			return
		}
		fn(rec)
	})
}

// SubscribeOne watches a single record id.
func (c *Collection[T]) SubscribeOne(id string, fn func(T)) (cancel func(), err error) {
	return c.Subscribe([]string{id}, fn)
}

// ValidateFieldIsUnique checks that no other record shares the candidate
// value of the given (indexed) field. Record subclasses call it from
// Validate for uniqueness constraints not expressible as store indexes.
func (c *Collection[T]) ValidateFieldIsUnique(ctx context.Context, rec T, field string) error {
	doc, err := c.toDocument(rec)
	if err != nil {
		return err
	}
	q := document.Query{Selector: map[string]any{
		field:            doc[field],
		document.FieldID: map[string]any{"$ne": rec.Metadata().ID},
	}}
	_, err = c.FindOne(ctx, q)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return common.ValidationErrors{field: "must be unique"}
}
