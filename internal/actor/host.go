package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aatumaykin/nexbackup/internal/logger"
)

// Host is an entity's handle on its runtime: durable state and timers
// scoped to the entity's own ID. It must only be used from inside calls
// delivered to that entity.
type Host struct {
	id ID
	rt *Runtime
}

func (h *Host) ID() ID {
	return h.id
}

// Logger returns a logger tagged with the entity ID.
func (h *Host) Logger() *logger.Logger {
	return h.rt.opts.Logger.With(logger.Field{Key: "entity", Value: h.id.String()})
}

// Now returns the runtime clock.
func (h *Host) Now() time.Time {
	return h.rt.now()
}

// ArmTimer creates or replaces the named timer. The first firing happens
// after due; a positive period makes it recurring.
func (h *Host) ArmTimer(ctx context.Context, name string, due, period time.Duration, state []byte) error {
	t := Timer{
		Owner:  h.id,
		Name:   name,
		DueAt:  h.rt.now().Add(due),
		Period: period,
		State:  state,
	}
	gen, err := h.rt.timers.Upsert(ctx, t)
	if err != nil {
		return fmt.Errorf("arm timer %s for %s: %w", name, h.id, err)
	}
	h.rt.log.Debug("timer armed",
		logger.Field{Key: "entity", Value: h.id.String()},
		logger.Field{Key: "timer", Value: name},
		logger.Field{Key: "due", Value: due.String()},
		logger.Field{Key: "period", Value: period.String()},
		logger.Field{Key: "generation", Value: gen})
	return nil
}

// DisarmTimer removes the named timer. Removing a timer that does not exist
// is not an error; the boolean reports whether one was removed.
func (h *Host) DisarmTimer(ctx context.Context, name string) (bool, error) {
	existed, err := h.rt.timers.Delete(ctx, h.id, name)
	if err != nil {
		return false, fmt.Errorf("disarm timer %s for %s: %w", name, h.id, err)
	}
	if !existed {
		h.rt.log.Debug("disarm of missing timer ignored",
			logger.Field{Key: "entity", Value: h.id.String()},
			logger.Field{Key: "timer", Value: name})
	}
	return existed, nil
}

// GetState decodes the value stored under key into v.
func (h *Host) GetState(ctx context.Context, key string, v any) (bool, error) {
	data, ok, err := h.rt.state.GetState(ctx, h.id, key)
	if err != nil {
		return false, fmt.Errorf("get state %s for %s: %w", key, h.id, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode state %s for %s: %w", key, h.id, err)
	}
	return true, nil
}

// SetState stores v under key as JSON.
func (h *Host) SetState(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state %s for %s: %w", key, h.id, err)
	}
	if err := h.rt.state.SetState(ctx, h.id, key, data); err != nil {
		return fmt.Errorf("set state %s for %s: %w", key, h.id, err)
	}
	return nil
}

func (h *Host) DeleteState(ctx context.Context, key string) error {
	if err := h.rt.state.DeleteState(ctx, h.id, key); err != nil {
		return fmt.Errorf("delete state %s for %s: %w", key, h.id, err)
	}
	return nil
}
