// Package app wires every component into a single running server: C-STORE,
// P-REG, AUTH, the Task Manager's queue/worker pool/reaper, the supplemented
// notification/filter-preset/component/cleanup-plan services, and DISP's
// HTTP surface, modeled on the teacher's internal/app.Application (same
// Stores-then-services-then-manager shape, same Attach/Start/Stop contract).
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reviewdeck/core/internal/auth"
	"github.com/reviewdeck/core/internal/cleanupplan"
	"github.com/reviewdeck/core/internal/component"
	"github.com/reviewdeck/core/internal/config"
	"github.com/reviewdeck/core/internal/core"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/cstore/memory"
	"github.com/reviewdeck/core/internal/cstore/migrations"
	"github.com/reviewdeck/core/internal/cstore/postgres"
	"github.com/reviewdeck/core/internal/dispatch"
	"github.com/reviewdeck/core/internal/filterpreset"
	"github.com/reviewdeck/core/internal/notify"
	"github.com/reviewdeck/core/internal/product"
	"github.com/reviewdeck/core/internal/ratelimit"
	"github.com/reviewdeck/core/internal/system"
	"github.com/reviewdeck/core/internal/task"
	"github.com/reviewdeck/core/pkg/logger"
)

// Application owns every long-running component and the system.Manager that
// sequences their Start/Stop.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store      cstore.Store
	Auth       *auth.Engine
	Products   *product.Registry
	Tasks      *task.Manager
	Workers    *task.WorkerPool
	Reaper     *task.Reaper
	Cleanup    *cleanupplan.Service
	Components *component.Service
	Notify     *notify.Service
	Presets    *filterpreset.Service
	Limiter    *ratelimit.Limiter
	Router     *dispatch.Router

	descriptors []core.Descriptor
}

// New builds a fully wired Application from cfg. A nil *sql.DB (driver
// "memory") uses the in-memory C-STORE; otherwise db must already be open
// and, if cfg.Database.MigrateOnStart is set, migrations are applied before
// any store read.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	var store cstore.Store
	switch cfg.Database.Driver {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres driver configured but no *sql.DB provided")
		}
		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(ctx, db); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		store = postgres.New(db)
	default:
		store = memory.New()
	}

	manager := system.NewManager()

	idleTimeout, absoluteTimeout := cfg.Auth.Durations()
	authEngine := auth.New(store, auth.Config{
		JWTSecret:       cfg.Auth.JWTSecret,
		IdleTimeout:     idleTimeout,
		AbsoluteTimeout: absoluteTimeout,
		AnonymousMode:   cfg.Auth.AnonymousMode,
		RedisAddr:       cfg.Auth.RedisAddr,
	}, log)

	products := product.New(store, log)
	if err := manager.Register(products); err != nil {
		return nil, fmt.Errorf("register product registry: %w", err)
	}

	pushDeadline, tStale, tOrphan, tGraceful, dataDirGrace, reaperInterval := cfg.Task.Durations()
	taskMgr := task.NewManager(store, task.Config{
		ScratchRoot:    cfg.Task.ScratchRoot,
		QueueCapacity:  cfg.Task.QueueCapacity,
		WorkerCount:    cfg.Task.WorkerCount,
		PushDeadline:   pushDeadline,
		TStale:         tStale,
		TOrphan:        tOrphan,
		TGraceful:      tGraceful,
		DataDirGrace:   dataDirGrace,
		ReaperInterval: reaperInterval,
	}, log)
	if err := task.RegisterBuiltins(taskMgr.Registry()); err != nil {
		return nil, fmt.Errorf("register builtin task kinds: %w", err)
	}

	workers := task.NewWorkerPool(taskMgr, cfg.Task.WorkerCount, log)
	if err := manager.Register(workers); err != nil {
		return nil, fmt.Errorf("register worker pool: %w", err)
	}

	reaper := task.NewReaper(taskMgr, log)
	if err := manager.Register(reaper); err != nil {
		return nil, fmt.Errorf("register reaper: %w", err)
	}

	cleanup := cleanupplan.New(store)
	components := component.New(store)
	notifier := notify.New(store, log)
	presets := filterpreset.New(store)
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})

	router := dispatch.New(
		dispatch.Config{AwaitPollInterval: cfg.Dispatch.AwaitPollInterval()},
		store,
		authEngine,
		products,
		taskMgr,
		workers,
		cleanup,
		components,
		notifier,
		presets,
		limiter,
		log,
	)

	return &Application{
		manager:     manager,
		log:         log,
		Store:       store,
		Auth:        authEngine,
		Products:    products,
		Tasks:       taskMgr,
		Workers:     workers,
		Reaper:      reaper,
		Cleanup:     cleanup,
		Components:  components,
		Notify:      notifier,
		Presets:     presets,
		Limiter:     limiter,
		Router:      router,
		descriptors: manager.Descriptors(),
	}, nil
}

// Attach registers an additional lifecycle-managed service; call before Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins every registered service in registration order.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every registered service in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for introspection.
func (a *Application) Descriptors() []core.Descriptor {
	out := make([]core.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}
