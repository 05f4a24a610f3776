package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/backup"
	"github.com/aatumaykin/nexbackup/internal/bus"
	"github.com/aatumaykin/nexbackup/internal/coordinator"
	"github.com/aatumaykin/nexbackup/internal/gateway"
	"github.com/aatumaykin/nexbackup/internal/session"
	"github.com/aatumaykin/nexbackup/internal/storage"
	"github.com/aatumaykin/nexbackup/internal/tools"
)

// Initialize builds every component without starting background loops.
// Entities can be called right after it returns; timers only fire once Run
// starts the runtime's poll loop.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.config

	// 1. Metrics
	a.newMetrics()

	// 2. Stores
	entityStores, err := storage.OpenEntityStores(cfg.Storage, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open entity stores: %w", err)
	}
	a.entityStores = entityStores

	taskStore, err := storage.OpenTaskStore(ctx, cfg.Tasks, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	a.taskStore = taskStore

	// 3. Sessions and bus
	a.sessions = session.NewRegistry(session.Options{
		QueueCapacity: cfg.Gateway.QueueCapacity,
		Overflow:      session.Overflow(cfg.Gateway.Overflow),
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
	a.bus = bus.New(a.sessions, a.logger, a.metrics)

	// 4. Entity runtime
	a.runtime = actor.New(entityStores.Timers, entityStores.State, actor.Options{
		Owner:              cfg.Runtime.Owner,
		PollInterval:       cfg.Runtime.PollInterval(),
		ClaimTTL:           cfg.Runtime.ClaimTTL(),
		IdleTimeout:        cfg.Runtime.IdleTimeout(),
		RetryDelay:         cfg.Runtime.RetryDelay(),
		MaxConcurrentFires: cfg.Runtime.MaxConcurrentFires,
		Logger:             a.logger,
		Metrics:            a.metrics,
	})

	if err := ensureDir(cfg.Backup.DestRoot); err != nil {
		return err
	}
	a.runtime.Register(backup.Kind, backup.NewFactory(backup.Deps{
		Tasks:   taskStore,
		Bus:     a.bus,
		Copier:  backup.FSCopier{SourceRoot: cfg.Backup.SourceRoot, DestRoot: cfg.Backup.DestRoot},
		Metrics: a.metrics,
		OneShot: cfg.Backup.OneShot,
	}))
	a.jobs = backup.NewProxy(a.runtime)

	a.runtime.Register(coordinator.Kind, coordinator.NewFactory(coordinator.Deps{
		Tasks:   taskStore,
		Jobs:    a.jobs,
		Bus:     a.bus,
		Metrics: a.metrics,
		Options: coordinator.Options{
			Due:              time.Duration(cfg.Coordinator.DueSeconds) * time.Second,
			Period:           time.Duration(cfg.Coordinator.PeriodSeconds) * time.Second,
			RearmAfterExpand: cfg.Coordinator.RearmAfterExpand,
		},
	}))
	a.coordinators = coordinator.NewProxy(a.runtime)

	// 5. Tools and gateway
	a.tools = tools.NewRegistry()
	if err := tools.RegisterBackupTools(a.tools, tools.BackupDeps{
		Tasks:        taskStore,
		Coordinators: a.coordinators,
		Sessions:     a.sessions,
		Logger:       a.logger,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	gwOpts := gateway.Options{
		Listen:             cfg.Gateway.Listen,
		Heartbeat:          cfg.Gateway.Heartbeat(),
		DeleteOnDisconnect: cfg.Gateway.DeleteOnDisconnect,
		Sessions:           a.sessions,
		Tools:              a.tools,
		Logger:             a.logger,
		Metrics:            a.metrics,
	}
	if a.promRegistry != nil {
		gwOpts.Gatherer = a.promRegistry
	}
	a.gateway = gateway.New(gwOpts)

	a.started = true
	return nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
