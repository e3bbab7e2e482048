package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goliatone/go-errors"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/builtin"
	"github.com/goliatone/go-watcher/config"
	"github.com/goliatone/go-watcher/execution"
	"github.com/goliatone/go-watcher/executor"
	"github.com/goliatone/go-watcher/lock"
	"github.com/goliatone/go-watcher/store"
	"github.com/goliatone/go-watcher/trigger"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg         *config.Config
	logger      watcher.Logger
	db          *sql.DB
	watches     *store.SQLiteWatchStore
	history     *store.SQLiteHistoryStore
	triggered   *store.SQLiteTriggeredWatchStore
	pool        *executor.Pool
	service     *execution.Service
	definitions []config.WatchDefinition
}

func loadConfig(g *Globals) (*config.Config, error) {
	loader := config.NewLoader().WithConfigFile(g.Config)
	v := loader.Viper()
	if g.Store != "" {
		v.Set("store.path", g.Store)
	}
	if g.Watches != "" {
		v.Set("watches.file", g.Watches)
	}
	if g.LogLevel != "" {
		v.Set("log.level", g.LogLevel)
	}
	return loader.Load()
}

// openStores wires the SQLite stores without touching watch definitions.
func openStores(cfg *config.Config, logger watcher.Logger) (*app, error) {
	db, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	retry := store.NewBusyRetry(logger)
	opts := []store.SQLiteOption{store.WithLogger(logger), store.WithRetry(retry)}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		watches:   store.NewSQLiteWatchStore(db, opts...),
		history:   store.NewSQLiteHistoryStore(db, opts...),
		triggered: store.NewSQLiteTriggeredWatchStore(db, opts...),
	}, nil
}

func bootstrap(ctx context.Context, g *Globals, out io.Writer) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	logger := newLogger(cfg.Log, out)

	a, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := a.registerWatches(ctx); err != nil {
		a.db.Close()
		return nil, err
	}

	a.pool = executor.NewPool(
		executor.WithWorkers(cfg.Executor.Workers),
		executor.WithQueueSize(cfg.Executor.QueueSize),
		executor.WithLogger(logger),
	)

	a.service, err = execution.NewService(execution.Dependencies{
		Watches:   a.watches,
		History:   a.history,
		Triggered: a.triggered,
		Executor:  a.pool,
		Locks:     lock.NewService(),
	},
		execution.WithLogger(logger),
		execution.WithDefaultThrottlePeriod(cfg.Execution.DefaultThrottlePeriod),
		execution.WithMaxStopTimeout(cfg.Execution.MaxStopTimeout),
		execution.WithNodeID(cfg.Node.ID),
	)
	if err != nil {
		a.db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) registerWatches(ctx context.Context) error {
	path := a.cfg.Watches.File
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		a.logger.Warn("watch file [%s] not found, starting without watches", path)
		return nil
	}
	file, err := config.LoadWatchFile(path)
	if err != nil {
		return err
	}

	registry := builtin.NewRegistry(builtin.WithLogger(a.logger))
	for _, def := range file.Watches {
		watch, err := registry.BuildWatch(def)
		if err != nil {
			return err
		}
		if err := a.watches.Register(ctx, watch); err != nil {
			return errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("register watch [%s]", def.ID))
		}
	}
	a.definitions = file.Watches
	a.logger.Info("registered [%d] watches from %s", len(file.Watches), path)
	return nil
}

// schedule adds every definition with a schedule to the engine.
func (a *app) schedule(engine *trigger.ScheduleEngine) error {
	for _, def := range a.definitions {
		if def.Schedule == "" {
			continue
		}
		if err := engine.Add(def.ID, def.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// awaitIdle waits until the executor has neither queued nor running tasks.
func (a *app) awaitIdle(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if a.pool.QueueSize() == 0 && a.pool.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *app) close(ctx context.Context) error {
	var errs error
	if a.service != nil && a.service.Started() {
		if err := a.service.Stop(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
