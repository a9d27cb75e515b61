package store

import (
	"context"
	"sync"
	"time"

	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
)

// changeNotifier delivers live per-document change notifications. Two
// strategies exist: feed-based for collections with a change feed, and
// polling for collections that structurally forbid live subscriptions.
type changeNotifier interface {
	// Subscribe registers interest in a set of document ids. The callback
	// fires with the updated raw document whenever one of them changes.
	Subscribe(ids []string, fn func(document.Document)) (cancel func())

	// Dispatch feeds an observed change into the notifier. Polling
	// implementations ignore it.
	Dispatch(doc document.Document)

	Close()
}

type subscriber struct {
	ids map[string]struct{}
	fn  func(document.Document)
}

// feedNotifier fans changes pushed by the sync session (or by local writes)
// out to matching subscribers.
type feedNotifier struct {
	mu     sync.Mutex
	subs   map[int]subscriber
	nextID int
}

func newFeedNotifier() *feedNotifier {
	return &feedNotifier{subs: map[int]subscriber{}}
}

func (n *feedNotifier) Subscribe(ids []string, fn func(document.Document)) (cancel func()) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs[id] = subscriber{ids: set, fn: fn}
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *feedNotifier) Dispatch(doc document.Document) {
	n.mu.Lock()
	var fns []func(document.Document)
	for _, sub := range n.subs {
		if _, ok := sub.ids[doc.ID()]; ok {
			fns = append(fns, sub.fn)
		}
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(doc)
	}
}

func (n *feedNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = map[int]subscriber{}
}

// pollNotifier is the fallback for collections without a change feed. It
// polls on a fixed interval and fires callbacks only for ids whose revision
// token changed since the previous observation.
type pollNotifier struct {
	mu     sync.Mutex
	subs   map[int]*pollSubscriber
	nextID int

	find     func(ctx context.Context, ids []string) ([]document.Document, error)
	interval time.Duration
	log      logging.Logger
	stop     chan struct{}
	once     sync.Once
}

type pollSubscriber struct {
	ids      []string
	fn       func(document.Document)
	lastRevs map[string]string
}

func newPollNotifier(interval time.Duration, log logging.Logger,
	find func(ctx context.Context, ids []string) ([]document.Document, error)) *pollNotifier {
	n := &pollNotifier{
		subs:     map[int]*pollSubscriber{},
		find:     find,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
	go n.loop()
	return n
}

func (n *pollNotifier) Subscribe(ids []string, fn func(document.Document)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs[id] = &pollSubscriber{
		ids:      append([]string(nil), ids...),
		fn:       fn,
		lastRevs: map[string]string{},
	}
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *pollNotifier) Dispatch(document.Document) {}

func (n *pollNotifier) Close() {
	n.once.Do(func() { close(n.stop) })
}

func (n *pollNotifier) loop() {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.poll()
		}
	}
}

func (n *pollNotifier) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), n.interval)
	defer cancel()

	n.mu.Lock()
	subs := make([]*pollSubscriber, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		docs, err := n.find(ctx, sub.ids)
		if err != nil {
			n.log.Warn(ctx, "change poll failed", "error", err)
			continue
		}
		for _, doc := range docs {
			id := doc.ID()
			rev := doc.Rev()
			n.mu.Lock()
			prev, seen := sub.lastRevs[id]
			sub.lastRevs[id] = rev
			n.mu.Unlock()
			if seen && prev != rev {
				sub.fn(doc)
			}
		}
	}
}
