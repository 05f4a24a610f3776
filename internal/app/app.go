// Package app wires nexbackup together: stores, the entity runtime with
// its coordinator and backup job kinds, the session registry, the
// notification bus and the HTTP gateway.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/backup"
	"github.com/aatumaykin/nexbackup/internal/bus"
	"github.com/aatumaykin/nexbackup/internal/config"
	"github.com/aatumaykin/nexbackup/internal/coordinator"
	"github.com/aatumaykin/nexbackup/internal/gateway"
	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
	"github.com/aatumaykin/nexbackup/internal/session"
	"github.com/aatumaykin/nexbackup/internal/storage"
	"github.com/aatumaykin/nexbackup/internal/tasks"
	"github.com/aatumaykin/nexbackup/internal/tools"
	"github.com/aatumaykin/nexbackup/internal/version"
)

// App holds every long lived component and manages their lifecycle.
type App struct {
	config *config.Config
	logger *logger.Logger

	// Observability
	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	// Persistence
	entityStores *storage.EntityStores
	taskStore    tasks.Store

	// Entities
	runtime      *actor.Runtime
	coordinators *coordinator.Proxy
	jobs         *backup.Proxy

	// Notifications
	sessions *session.Registry
	bus      *bus.Bus

	// Transport
	tools   *tools.Registry
	gateway *gateway.Server

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates an App. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{
		config: cfg,
		logger: log,
	}
}

// Run initializes the application, serves until ctx is cancelled or a
// component fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.runtime.Start(); err != nil {
			return fmt.Errorf("start entity runtime: %w", err)
		}
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		if err := a.sessions.StartSweeper(a.config.Gateway.SweepSchedule, a.config.Gateway.SessionIdleTTL()); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		return a.gateway.Run(gctx)
	})

	a.logger.Info(version.FormatStartupMessage(),
		logger.Field{Key: "listen", Value: a.config.Gateway.Listen},
		logger.Field{Key: "storage", Value: a.config.Storage.Driver},
		logger.Field{Key: "tasks", Value: a.config.Tasks.Driver})

	err := g.Wait()
	if serr := a.Shutdown(context.Background()); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Coordinators returns the coordinator proxy. Valid after Initialize.
func (a *App) Coordinators() *coordinator.Proxy {
	return a.coordinators
}

// Jobs returns the backup job proxy. Valid after Initialize.
func (a *App) Jobs() *backup.Proxy {
	return a.jobs
}

// Tasks returns the task store. Valid after Initialize.
func (a *App) Tasks() tasks.Store {
	return a.taskStore
}

// Runtime returns the entity runtime. Valid after Initialize.
func (a *App) Runtime() *actor.Runtime {
	return a.runtime
}

// Sessions returns the session registry. Valid after Initialize.
func (a *App) Sessions() *session.Registry {
	return a.sessions
}

// Bus returns the notification bus. Valid after Initialize.
func (a *App) Bus() *bus.Bus {
	return a.bus
}

// Gateway returns the HTTP gateway. Valid after Initialize.
func (a *App) Gateway() *gateway.Server {
	return a.gateway
}

func (a *App) newMetrics() {
	if !a.config.Metrics.Enabled {
		return
	}
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.config.Metrics.Namespace, a.promRegistry)
}
