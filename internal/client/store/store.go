// Package store implements the per-collection document engine: connect/sync
// lifecycle, a race-deduplicated stale-while-revalidate query cache with
// TTL-based garbage collection, live change subscriptions, and the CRUD
// primitives everything above it (Collection, Record, query helpers) builds
// on.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/offlinekit/docstore/internal/client/remote"
	"github.com/offlinekit/docstore/internal/client/replica"
	"github.com/offlinekit/docstore/internal/client/syncer"
	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
)

// Options configures a Store. Zero durations fall back to the defaults
// below; the staleness thresholds are tunables, not load-bearing values.
type Options struct {
	// Name is the logical collection identifier.
	Name string

	// RemoteOnly collections have no local replica and are proxied directly
	// to the remote endpoint; live subscriptions fall back to polling.
	RemoteOnly bool

	// FreshFor is how long a cache hit is returned without triggering a
	// background refresh.
	FreshFor time.Duration

	// MaxAge is how long an untouched cache entry survives GC sweeps.
	MaxAge time.Duration

	// GCInterval is the sweep period.
	GCInterval time.Duration

	// PollInterval is the change-poll period for remote-only collections.
	PollInterval time.Duration

	Logger logging.Logger
}

const (
	defaultFreshFor     = 3 * time.Second
	defaultMaxAge       = 10 * time.Minute
	defaultGCInterval   = time.Minute
	defaultPollInterval = 10 * time.Second
)

func (o *Options) fillDefaults() {
	if o.FreshFor <= 0 {
		o.FreshFor = defaultFreshFor
	}
	if o.MaxAge <= 0 {
		o.MaxAge = defaultMaxAge
	}
	if o.GCInterval <= 0 {
		o.GCInterval = defaultGCInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Store is the single source of truth for one logical collection's
// documents, across a local replica and (optionally) a remote endpoint.
type Store struct {
	opts Options
	log  logging.Logger

	rep *replica.Replica
	rem *remote.Client

	mu         sync.Mutex
	backend    Backend
	notifier   changeNotifier
	session    *syncer.Session
	ready      bool
	connecting bool
	gcStop     chan struct{}
	runCancel  context.CancelFunc

	cache *queryCache
}

// New creates a store over a local replica and/or a remote client. Either
// may be nil: a remote-only collection has no replica, and an offline or
// test store may have no remote. The store is not usable until Connect.
func New(opts Options, rep *replica.Replica, rem *remote.Client) *Store {
	opts.fillDefaults()
	return &Store{
		opts:  opts,
		log:   opts.Logger.With("collection", opts.Name),
		rep:   rep,
		rem:   rem,
		cache: newQueryCache(opts.FreshFor),
	}
}

// Name returns the logical collection identifier.
func (s *Store) Name() string { return s.opts.Name }

// IsReady reports whether Connect has completed.
func (s *Store) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Store) ensureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return common.ErrDatabaseLoading
	}
	return nil
}

// Connect brings the store to the ready state. Remote-only collections and
// administrator sessions treat the remote handle as canonical and become
// ready immediately; everything else runs the bootstrap sync first and then
// keeps a live bidirectional sync running in the background. A Connect racing
// an in-flight Connect fails with ErrDatabaseLoading.
func (s *Store) Connect(ctx context.Context, user User) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return common.ErrDatabaseLoading
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	direct := s.opts.RemoteOnly || (user != nil && user.IsAdmin())

	var (
		backend  Backend
		notifier changeNotifier
		session  *syncer.Session
	)

	switch {
	case direct:
		if s.rem == nil {
			return fmt.Errorf("collection %s: remote-only store has no remote client", s.opts.Name)
		}
		backend = s.rem
		notifier = newPollNotifier(s.opts.PollInterval, s.log, func(ctx context.Context, ids []string) ([]document.Document, error) {
			return s.rem.Find(ctx, document.Query{
				Selector: map[string]any{document.FieldID: map[string]any{"$in": ids}},
			})
		})

	case s.rem == nil:
		// Offline/local-only setup: the replica is canonical.
		if s.rep == nil {
			return fmt.Errorf("collection %s: store has neither replica nor remote", s.opts.Name)
		}
		backend = s.rep
		notifier = newFeedNotifier()

	default:
		if s.rep == nil {
			return fmt.Errorf("collection %s: replicated store has no replica", s.opts.Name)
		}
		backend = s.rep
		notifier = newFeedNotifier()
		session = syncer.New(s.rep, s.rem, s.log, s.handleRemoteChange)
		if err := session.Bootstrap(ctx); err != nil {
			notifier.Close()
			return err
		}
	}

	s.mu.Lock()
	s.backend = backend
	s.notifier = notifier
	s.session = session
	s.gcStop = make(chan struct{})
	gcStop := s.gcStop
	var runCtx context.Context
	if session != nil {
		runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	s.ready = true
	s.mu.Unlock()

	if session != nil {
		go session.Run(runCtx)
	}
	go s.gcLoop(gcStop)

	s.log.Info(ctx, "store ready", "remoteOnly", s.opts.RemoteOnly)
	return nil
}

// Close frees connections and stops background work without deleting local
// data. The store returns to the uninitialized state.
func (s *Store) Close() {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = false
	close(s.gcStop)
	notifier := s.notifier
	session := s.session
	runCancel := s.runCancel
	s.backend = nil
	s.notifier = nil
	s.session = nil
	s.runCancel = nil
	s.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	if runCancel != nil {
		runCancel()
	}
	if notifier != nil {
		notifier.Close()
	}
}

// Destroy closes the store and deletes the local replica's data. Remote data
// is untouched. Irrecoverable for the local replica only.
func (s *Store) Destroy(ctx context.Context) error {
	s.Close()
	s.cache = newQueryCache(s.opts.FreshFor)
	if s.rep != nil {
		return s.rep.Destroy(ctx)
	}
	return nil
}

func (s *Store) gcLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.opts.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.cache.sweep(s.opts.MaxAge)
		}
	}
}

func idKey(id string) string { return "id:" + id }

// Get fetches one document by id. Soft-deleted documents count as not found.
// The result is cached under an id-scoped key that every write touching the
// id refreshes eagerly.
func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	docs, err := s.cache.fetch(ctx, idKey(id), func(ctx context.Context) ([]document.Document, error) {
		doc, err := s.backendHandle().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Deleted() {
			return nil, &common.NotFoundError{ID: id}
		}
		return []document.Document{doc}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &common.NotFoundError{ID: id}
	}
	return docs[0], nil
}

// GetMany fetches a set of ids via a single find; the underlying stores have
// no efficient native multi-get.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]document.Document, error) {
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	return s.Find(ctx, document.Query{
		Selector: map[string]any{document.FieldID: map[string]any{"$in": anyIDs}},
	})
}

// Set writes one document: assigns an id and createdAt when absent, always
// refreshes updatedAt, increments version (0 for a new document), strips
// nil-valued fields, and returns the stored document including its new
// revision token.
func (s *Store) Set(ctx context.Context, doc document.Document) (document.Document, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	saved, err := s.backendHandle().Put(ctx, s.prepare(doc))
	if err != nil {
		return nil, err
	}
	s.afterWrite(saved)
	return saved, nil
}

// SetMany writes a batch best-effort. Individual failures are collected into
// one aggregate error; writes that succeeded stay committed, there is no
// rollback.
func (s *Store) SetMany(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	prepared := make([]document.Document, len(docs))
	for i, doc := range docs {
		prepared[i] = s.prepare(doc)
	}
	saved, err := s.backendHandle().BulkPut(ctx, prepared)
	for _, doc := range saved {
		s.afterWrite(doc)
	}
	return saved, err
}

// Find runs a cached, race-deduplicated query. A pure get-by-id query
// delegates to Get; the default selector excludes soft-deleted documents
// unless the caller explicitly queries deletedAt.
func (s *Store) Find(ctx context.Context, q document.Query) ([]document.Document, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if id, ok := q.IDOnly(); ok {
		doc, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []document.Document{doc}, nil
	}

	nq := q.Normalize()
	return s.cache.fetch(ctx, nq.CacheKey(), func(ctx context.Context) ([]document.Document, error) {
		return s.backendHandle().Find(ctx, nq)
	})
}

// FindOne is Find with limit 1, failing with ErrNotFound on an empty result.
func (s *Store) FindOne(ctx context.Context, q document.Query) (document.Document, error) {
	q.Limit = 1
	docs, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.ErrNotFound
	}
	return docs[0], nil
}

// Delete soft-deletes: the document stays addressable through explicit
// deletedAt queries but is excluded from default selectors and direct gets.
func (s *Store) Delete(ctx context.Context, doc document.Document) (document.Document, error) {
	marked := doc.Clone()
	marked[document.FieldDeletedAt] = time.Now().UTC()
	return s.Set(ctx, marked)
}

// DeletePermanent irrevocably removes the document. For replicated
// collections the remote copy is removed as well, best-effort.
func (s *Store) DeletePermanent(ctx context.Context, doc document.Document) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	id, rev := doc.ID(), doc.Rev()
	if err := s.backendHandle().Delete(ctx, id, rev); err != nil {
		return err
	}
	if s.rep != nil && s.rem != nil && !s.opts.RemoteOnly {
		if err := s.rem.Delete(ctx, id, rev); err != nil && !errors.Is(err, common.ErrNotFound) {
			s.log.Warn(ctx, "remote permanent delete failed", "id", id, "error", err)
		}
	}
	s.cache.invalidate(idKey(id))
	s.dispatch(document.Document{
		document.FieldID:        id,
		document.FieldDeletedAt: time.Now().UTC(),
	})
	return nil
}

// Subscribe registers a live change callback scoped to a set of ids and
// returns a cancel handle. Delivery is feed-based where the collection has a
// change feed and poll-based otherwise.
func (s *Store) Subscribe(ids []string, fn func(document.Document)) (cancel func(), err error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()
	return notifier.Subscribe(ids, fn), nil
}

// SubscribeQuery registers a push consumer for one query's cache entry; the
// callback fires whenever the entry settles with a new result set.
func (s *Store) SubscribeQuery(q document.Query, fn func([]document.Document)) (cancel func()) {
	return s.cache.subscribe(q.Normalize().CacheKey(), fn)
}

// CacheSize reports the number of live cache entries.
func (s *Store) CacheSize() int { return s.cache.size() }

// SweepCache runs one GC sweep immediately.
func (s *Store) SweepCache() { s.cache.sweep(s.opts.MaxAge) }

func (s *Store) backendHandle() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// prepare stamps a document for writing. The base revision is left in place
// for the backend's optimistic-concurrency check.
func (s *Store) prepare(doc document.Document) document.Document {
	out := doc.Clone().StripNils()
	now := time.Now().UTC()
	if out.ID() == "" {
		out[document.FieldID] = document.NewID()
	}
	if _, ok := out[document.FieldCreatedAt]; !ok {
		out[document.FieldCreatedAt] = now
	}
	out[document.FieldUpdatedAt] = now
	if out.Rev() == "" {
		out[document.FieldVersion] = int64(0)
	} else {
		out[document.FieldVersion] = out.Version() + 1
	}
	return out
}

// afterWrite refreshes the id-scoped cache entry and notifies subscribers of
// a local change; replicated stores also schedule a push.
func (s *Store) afterWrite(doc document.Document) {
	if doc.Deleted() {
		s.cache.invalidate(idKey(doc.ID()))
	} else {
		s.cache.put(idKey(doc.ID()), []document.Document{doc})
	}
	s.dispatch(doc)

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		session.TriggerPush()
	}
}

// handleRemoteChange is invoked by the sync session for every change applied
// from the remote feed.
func (s *Store) handleRemoteChange(ch document.Change) {
	if ch.Deleted || (ch.Doc != nil && ch.Doc.Deleted()) {
		s.cache.invalidate(idKey(ch.ID))
	} else if ch.Doc != nil {
		s.cache.put(idKey(ch.ID), []document.Document{ch.Doc})
	}
	doc := ch.Doc
	if doc == nil {
		doc = document.Document{
			document.FieldID:        ch.ID,
			document.FieldDeletedAt: time.Now().UTC(),
		}
	}
	s.dispatch(doc)
}

func (s *Store) dispatch(doc document.Document) {
	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()
	if notifier != nil {
		notifier.Dispatch(doc)
	}
}
