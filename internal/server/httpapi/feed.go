package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/server/users"
)

// feedCatchupBatch is the page size used while replaying the change log
// before switching a feed to live mode.
const feedCatchupBatch = 500

// serveFeed upgrades to a websocket and streams the collection's changes:
// first a catch-up replay of everything after since, then live changes as
// they are written. Sequence numbers never go backwards on one connection.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, collection string, since int64) {
	if collection == users.Collection {
		writeError(w, common.ValidationErrors{"feed": "not available for the users collection"})
		return
	}

	live, cancel := s.docs.Subscribe(collection)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// The read loop only exists to notice the peer going away.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastSent := since
	for {
		page, err := s.docs.Changes(ctx, collection, lastSent, feedCatchupBatch)
		if err != nil {
			s.log.Error(ctx, "feed catch-up failed", "error", err)
			return
		}
		for _, ch := range page.Results {
			if err := conn.WriteJSON(ch); err != nil {
				return
			}
			lastSent = ch.Seq
		}
		if len(page.Results) < feedCatchupBatch {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ch := <-live:
			// Changes published while the catch-up replay ran arrive on
			// both paths; the seq guard drops the duplicates.
			if ch.Seq <= lastSent {
				continue
			}
			if err := conn.WriteJSON(ch); err != nil {
				return
			}
			lastSent = ch.Seq
		}
	}
}
