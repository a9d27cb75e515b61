// Package syncer orchestrates replication between a collection's local
// replica and the remote endpoint: a one-time bootstrap (full pull of the
// change log plus a push of pending local writes) followed by a live
// continuous bidirectional sync that retries indefinitely.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/offlinekit/docstore/internal/client/remote"
	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
)

// Local is the replica surface a session needs.
type Local interface {
	Checkpoint(ctx context.Context) (int64, error)
	SetCheckpoint(ctx context.Context, seq int64) error
	Apply(ctx context.Context, ch document.Change) error
	Pending(ctx context.Context) ([]document.Document, error)
	MarkSynced(ctx context.Context, id, rev string) error
}

// Remote is the endpoint surface a session needs.
type Remote interface {
	Changes(ctx context.Context, since int64, limit int) (document.ChangesPage, error)
	BulkDocs(ctx context.Context, docs []document.Document, force bool) ([]remote.BulkResult, error)
	Feed(ctx context.Context, since int64, fn func(document.Change)) error
}

const (
	defaultBatchSize = 500
	pushRetryEvery   = 30 * time.Second
	backoffStart     = time.Second
	backoffCap       = 30 * time.Second
)

// Session replicates one collection. Create it with New, call Bootstrap once
// before serving reads, then Run in the background. Stop tears it down.
type Session struct {
	rep      Local
	rem      Remote
	log      logging.Logger
	onChange func(document.Change)

	pushCh chan struct{}
	stop   chan struct{}
	once   sync.Once
	batch  int
}

// New wires a session. onChange fires for every change applied from the
// remote feed, after it has been written to the replica; it may be nil.
func New(rep Local, rem Remote, log logging.Logger, onChange func(document.Change)) *Session {
	if onChange == nil {
		onChange = func(document.Change) {}
	}
	return &Session{
		rep:      rep,
		rem:      rem,
		log:      log,
		onChange: onChange,
		pushCh:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		batch:    defaultBatchSize,
	}
}

// Bootstrap performs the initial full sync: it drains the remote change log
// from the persisted checkpoint and pushes any pending local writes. The
// store must not report ready before Bootstrap returns, so that initial
// queries are not served against an empty replica.
func (s *Session) Bootstrap(ctx context.Context) error {
	if err := s.pull(ctx); err != nil {
		return fmt.Errorf("bootstrap pull failed: %w", err)
	}
	if err := s.push(ctx); err != nil {
		return fmt.Errorf("bootstrap push failed: %w", err)
	}
	return nil
}

// pull drains the remote change log page by page, applying each change to
// the replica and advancing the checkpoint.
func (s *Session) pull(ctx context.Context) error {
	seq, err := s.rep.Checkpoint(ctx)
	if err != nil {
		return err
	}
	for {
		page, err := s.rem.Changes(ctx, seq, s.batch)
		if err != nil {
			return err
		}
		for _, ch := range page.Results {
			if err := s.rep.Apply(ctx, ch); err != nil {
				return err
			}
			s.onChange(ch)
		}
		if page.LastSeq > seq {
			seq = page.LastSeq
			if err := s.rep.SetCheckpoint(ctx, seq); err != nil {
				return err
			}
		}
		if len(page.Results) < s.batch {
			return nil
		}
	}
}

// push sends pending local writes to the remote in force mode: client
// revisions are stored as-is, last writer wins. Rows are marked clean only
// when the push succeeds and no newer local edit appeared meanwhile.
func (s *Session) push(ctx context.Context) error {
	pending, err := s.rep.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	results, err := s.rem.BulkDocs(ctx, pending, true)
	if err != nil {
		return err
	}
	for _, res := range results {
		if !res.OK {
			s.log.Warn(ctx, "push rejected", "id", res.ID, "error", res.Error, "reason", res.Reason)
			continue
		}
		rev := ""
		if res.Doc != nil {
			rev = res.Doc.Rev()
		}
		if err := s.rep.MarkSynced(ctx, res.ID, rev); err != nil {
			return err
		}
	}
	s.log.Debug(ctx, "pushed pending documents", "count", len(pending))
	return nil
}

// TriggerPush schedules a push round without blocking. Local writes call it
// so optimistic edits reach the remote promptly.
func (s *Session) TriggerPush() {
	select {
	case s.pushCh <- struct{}{}:
	default:
	}
}

// Stop terminates the live sync loops.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// Run drives the live bidirectional sync until the context is canceled or
// Stop is called: a websocket change feed on the pull side (reconnecting
// with capped exponential backoff, indefinitely) and a push loop fed by
// TriggerPush plus a periodic retry tick.
func (s *Session) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.pullLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.pushLoop(ctx)
	}()

	wg.Wait()
}

func (s *Session) pullLoop(ctx context.Context) {
	backoff := backoffStart
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		seq, err := s.rep.Checkpoint(ctx)
		if err == nil {
			err = s.rem.Feed(ctx, seq, func(ch document.Change) {
				if applyErr := s.rep.Apply(ctx, ch); applyErr != nil {
					s.log.Error(ctx, "failed to apply change", "id", ch.ID, "error", applyErr)
					return
				}
				if cpErr := s.rep.SetCheckpoint(ctx, ch.Seq); cpErr != nil {
					s.log.Error(ctx, "failed to persist checkpoint", "seq", ch.Seq, "error", cpErr)
				}
				s.onChange(ch)
				backoff = backoffStart
			})
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warn(ctx, "change feed interrupted", "error", err, "retryIn", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < backoffCap {
			backoff *= 2
		}
	}
}

func (s *Session) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(pushRetryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.pushCh:
		case <-ticker.C:
		}
		if err := s.push(ctx); err != nil {
			s.log.Warn(ctx, "push failed", "error", err)
		}
	}
}
