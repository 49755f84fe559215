package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/events"
	"github.com/kanaz606/auto-geo/internal/logging"
	"github.com/kanaz606/auto-geo/internal/orchestrator"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/scheduler"
	"github.com/kanaz606/auto-geo/internal/server"
	"github.com/kanaz606/auto-geo/internal/session"
	"github.com/kanaz606/auto-geo/internal/vault"
)

// store is everything the components need from persistence. Both the
// Postgres store and the in-memory store satisfy it.
type store interface {
	orchestrator.Store
	session.Store
	scheduler.JobStore
	server.Store
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*db.Memory)(nil)
)

// app holds the process-wide pieces shared by the subcommands
type app struct {
	cfg     *config.Config
	events  *events.Broadcaster
	log     *slog.Logger
	store   store
	closers []func()
}

// newApp loads configuration, builds the logger and opens the store. When
// memory is set no database is used.
func newApp(ctx context.Context, memory bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	bus := events.NewBroadcaster()
	a := &app{
		cfg:    cfg,
		events: bus,
		log:    logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel), bus),
	}
	slog.SetDefault(a.log)

	if memory {
		a.log.Warn("using in-memory store, nothing will be persisted")
		a.store = db.NewMemory()
		return a, nil
	}

	database, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	a.store = database
	return a, nil
}

func (a *app) openDB(ctx context.Context) (*db.DB, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required (or use --memory)")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	database, err := db.Connect(connectCtx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, database.Close)
	return database, nil
}

// sessions builds the session manager with a real browser launcher
func (a *app) sessions() (*session.Manager, error) {
	v, err := vault.New(a.cfg.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential vault: %w", err)
	}

	launcherOpts := []browser.LauncherOption{browser.WithLogger(a.log)}
	if path := os.Getenv("CHROME_PATH"); path != "" {
		launcherOpts = append(launcherOpts, browser.WithExecPath(path))
	}

	poll := a.cfg.Session.PublishPollTimeout.D()
	registry := publisher.Default(publisher.WithResultPolling(max(int(poll/time.Second), 1), time.Second))

	manager, err := session.New(a.cfg.Session, session.Deps{
		Store:    a.store,
		Vault:    v,
		Launcher: browser.NewChromeLauncher(launcherOpts...),
		Registry: registry,
		Logger:   a.log,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = manager.Close() })
	return manager, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.events.Close()
}
