package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
)

func TestFeedNotifierFansOutByID(t *testing.T) {
	n := newFeedNotifier()
	defer n.Close()

	var mu sync.Mutex
	var seen []string
	cancel := n.Subscribe([]string{"a", "b"}, func(doc document.Document) {
		mu.Lock()
		seen = append(seen, doc.ID())
		mu.Unlock()
	})

	n.Dispatch(document.Document{document.FieldID: "a"})
	n.Dispatch(document.Document{document.FieldID: "z"})
	n.Dispatch(document.Document{document.FieldID: "b"})

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, seen)
	mu.Unlock()

	cancel()
	n.Dispatch(document.Document{document.FieldID: "a"})
	mu.Lock()
	assert.Len(t, seen, 2, "canceled subscriber must not fire")
	mu.Unlock()
}

func TestPollNotifierFiresOnRevChangeOnly(t *testing.T) {
	var mu sync.Mutex
	rev := "1-a"
	find := func(ctx context.Context, ids []string) ([]document.Document, error) {
		mu.Lock()
		defer mu.Unlock()
		return []document.Document{{document.FieldID: "x", document.FieldRev: rev}}, nil
	}

	n := newPollNotifier(20*time.Millisecond, logging.NewNop(), find)
	defer n.Close()

	changed := make(chan string, 4)
	n.Subscribe([]string{"x"}, func(doc document.Document) {
		changed <- doc.Rev()
	})

	// The first observation only records the revision.
	select {
	case <-changed:
		t.Fatal("first poll must not fire")
	case <-time.After(80 * time.Millisecond):
	}

	mu.Lock()
	rev = "2-b"
	mu.Unlock()

	select {
	case got := <-changed:
		assert.Equal(t, "2-b", got)
	case <-time.After(time.Second):
		t.Fatal("revision change never observed")
	}
}
