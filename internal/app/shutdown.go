package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const runtimeStopTimeout = 30 * time.Second

// Shutdown stops components in reverse dependency order:
//  1. Stops the entity runtime, letting in-flight firings finish
//  2. Closes every session, which ends open streams
//  3. Closes the task store and the entity stores
//
// The HTTP gateway stops on its own when the context passed to Run is
// cancelled. Shutdown is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error

	if a.runtime != nil {
		stopCtx, cancel := context.WithTimeout(ctx, runtimeStopTimeout)
		if err := a.runtime.Stop(stopCtx); err != nil {
			a.logger.Error("Failed to stop entity runtime", err)
			errs = append(errs, err)
		}
		cancel()
	}

	if a.sessions != nil {
		a.sessions.Close()
	}

	if a.taskStore != nil {
		if err := a.taskStore.Close(); err != nil {
			a.logger.Error("Failed to close task store", err)
			errs = append(errs, fmt.Errorf("close task store: %w", err))
		}
	}

	if a.entityStores != nil {
		if err := a.entityStores.Close(); err != nil {
			a.logger.Error("Failed to close entity stores", err)
			errs = append(errs, fmt.Errorf("close entity stores: %w", err))
		}
	}

	a.logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}
