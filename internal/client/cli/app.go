// Package cli implements the interactive client shell: login/logout against
// the remote endpoint and document operations over per-collection stores.
package cli

import (
	"bufio"
	"context"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/offlinekit/docstore/internal/client/config"
	"github.com/offlinekit/docstore/internal/client/query"
	"github.com/offlinekit/docstore/internal/client/remote"
	"github.com/offlinekit/docstore/internal/client/replica"
	"github.com/offlinekit/docstore/internal/client/session"
	"github.com/offlinekit/docstore/internal/client/store"
	"github.com/offlinekit/docstore/internal/logging"
)

type App struct {
	config *config.Config
	log    logging.Logger
	db     *replica.DB
	reader *bufio.Reader
	auth   *session.Auth
	stores map[string]*store.Store
	runner *query.Runner
}

func NewApp(c *config.Config) (*App, error) {
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	logger := logging.NewSlogLogger(slogger)

	db, err := replica.Open(context.Background(), c.ReplicaDSN)
	if err != nil {
		return nil, err
	}

	return &App{
		config: c,
		log:    logger,
		db:     db,
		reader: bufio.NewReader(os.Stdin),
		stores: make(map[string]*store.Store),
		runner: query.NewRunner(),
	}, nil
}

// openStore returns the connected store for a collection, creating it on
// first use. The users collection is never replicated locally.
func (a *App) openStore(ctx context.Context, collection string) (*store.Store, error) {
	if st, ok := a.stores[collection]; ok {
		return st, nil
	}

	var rem *remote.Client
	if a.auth != nil && a.auth.Token != "" {
		rem = remote.New(a.config.ServerEndpointAddr, collection, remote.WithToken(a.auth.Token))
	}

	st := store.New(store.Options{
		Name:         collection,
		RemoteOnly:   collection == "users",
		FreshFor:     a.config.CacheFreshFor,
		MaxAge:       a.config.CacheMaxAge,
		PollInterval: a.config.PollInterval,
		Logger:       a.log,
	}, a.db.Collection(collection), rem)

	if err := st.Connect(ctx, a.auth.User()); err != nil {
		return nil, err
	}

	a.stores[collection] = st
	return st, nil
}

// closeStores drops all connected stores, forcing a reconnect with the
// current credentials on next use.
func (a *App) closeStores() {
	for name, st := range a.stores {
		st.Close()
		delete(a.stores, name)
	}
	a.runner.Invalidate("")
}

func (a *App) Close() {
	a.closeStores()
	a.runner.Close()
	_ = a.db.Close()
}
