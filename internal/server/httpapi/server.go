// Package httpapi exposes the document endpoint over HTTP: session auth,
// per-collection document CRUD, bulk writes, selector queries and the change
// feed (one-shot and websocket continuous mode).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinekit/docstore/internal/logging"
	"github.com/offlinekit/docstore/internal/server/documents"
	"github.com/offlinekit/docstore/internal/server/users"
)

type Server struct {
	address  string
	log      logging.Logger
	docs     *documents.Service
	users    *users.Service
	secret   []byte
	upgrader websocket.Upgrader
}

func NewServer(address string, log logging.Logger, docs *documents.Service, us *users.Service, secretKey string) *Server {
	return &Server{
		address: address,
		log:     log.With("module", "httpapi"),
		docs:    docs,
		users:   us,
		secret:  []byte(secretKey),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /session", s.handleLogin)
	mux.Handle("GET /session", s.auth(http.HandlerFunc(s.handleSession)))

	mux.Handle("POST /{collection}/_bulk_docs", s.auth(http.HandlerFunc(s.handleBulkDocs)))
	mux.Handle("POST /{collection}/_find", s.auth(http.HandlerFunc(s.handleFind)))
	mux.Handle("GET /{collection}/_changes", s.auth(http.HandlerFunc(s.handleChanges)))

	mux.Handle("GET /{collection}/{id}", s.auth(http.HandlerFunc(s.handleGet)))
	mux.Handle("PUT /{collection}/{id}", s.auth(http.HandlerFunc(s.handlePut)))
	mux.Handle("DELETE /{collection}/{id}", s.auth(http.HandlerFunc(s.handleDelete)))

	return mux
}

// Handler returns the full route table, auth included. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
