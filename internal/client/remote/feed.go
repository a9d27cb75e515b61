package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/offlinekit/docstore/internal/document"
)

// Feed opens the continuous websocket change feed and invokes fn for every
// change the endpoint emits, in emission order. It returns when ctx is
// canceled (with ctx.Err()) or when the connection breaks; reconnecting is
// the caller's job.
func (c *Client) Feed(ctx context.Context, since int64, fn func(document.Change)) error {
	u := fmt.Sprintf("%s?feed=ws&since=%d", c.collURL("_changes"), since)
	u = "ws" + strings.TrimPrefix(u, "http")

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return c.asError(resp)
		}
		return fmt.Errorf("feed dial failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ch document.Change
		if err := conn.ReadJSON(&ch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("feed read failed: %w", err)
		}
		if ch.Doc != nil {
			ch.Doc.NormalizeTimes()
		}
		fn(ch)
	}
}
