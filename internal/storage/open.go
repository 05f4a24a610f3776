package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/config"
	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

// EntityStores bundles the timer and state stores handed to the runtime.
type EntityStores struct {
	Timers actor.TimerStore
	State  actor.StateStore
	closer func() error
}

func (s *EntityStores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// OpenEntityStores initializes the configured timer and state stores.
func OpenEntityStores(cfg config.StorageConfig, log *logger.Logger) (*EntityStores, error) {
	if log == nil {
		log = logger.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "memory":
		return &EntityStores{
			Timers: actor.NewMemoryTimerStore(),
			State:  actor.NewMemoryStateStore(),
		}, nil
	case "sqlite", "sqlite3":
		db, err := OpenSQLite(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return &EntityStores{Timers: db, State: db, closer: db.Close}, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// OpenTaskStore initializes the configured task store.
func OpenTaskStore(ctx context.Context, cfg config.TasksConfig, log *logger.Logger) (tasks.Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "memory":
		return tasks.NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg.Path, log)
	case "jsonl", "file":
		return NewJSONLStore(cfg.Path, log)
	case "postgres", "postgresql", "pg":
		st, err := OpenPostgres(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("postgres %s: %w", config.MaskDSN(cfg.DSN), err)
		}
		return st, nil
	default:
		return nil, errors.New("unknown tasks driver: " + driver)
	}
}
