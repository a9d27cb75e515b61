// Package server initializes and runs the document endpoint: it selects the
// storage backend, seeds the admin account, handles graceful shutdown, and
// starts the HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/offlinekit/docstore/internal/logging"
	"github.com/offlinekit/docstore/internal/server/config"
	"github.com/offlinekit/docstore/internal/server/documents"
	"github.com/offlinekit/docstore/internal/server/httpapi"
	"github.com/offlinekit/docstore/internal/server/shared/db"
	"github.com/offlinekit/docstore/internal/server/users"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	manager     db.RepositoryManager
	docService  *documents.Service
	userService *users.Service
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	var manager db.RepositoryManager
	var err error
	if c.DatabaseDSN == "" {
		manager = db.NewMemoryRepositoryManager()
	} else {
		manager, err = db.NewPostgresRepositoryManager(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
	}

	ds := documents.NewService(manager.Documents(), logger)
	us := users.NewService(ds, logger, c.SecretKey, c.TokenValidityDuration)

	return &App{config: c, logger: logger, manager: manager, docService: ds, userService: us}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.EndpointAddr, app.logger, app.docService, app.userService, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.userService.EnsureAdmin(ctx, app.config.AdminName, app.config.AdminPassword); err != nil {
		app.logger.Error(ctx, "admin seed failed", "error", err)
		return
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
}
