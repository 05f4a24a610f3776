// Package actor implements identity-addressed entities with strictly
// serialized execution per identity, durable per-entity state and durable
// at-least-once timers.
//
// Every live identity owns one goroutine draining a mailbox, so two calls for
// the same ID never overlap while calls for different IDs run concurrently.
// An entity must not call itself through the Runtime from inside one of its
// own calls; that would wait on its own mailbox.
package actor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrActivation wraps failures raised while loading an entity.
	ErrActivation = errors.New("entity activation failed")
	// ErrUnknownKind is returned for IDs whose kind has no registered factory.
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrStopped is returned once the runtime has been stopped.
	ErrStopped = errors.New("entity runtime stopped")
	// ErrNotTimerHandler is returned when a timer fires on an entity that
	// does not implement TimerHandler.
	ErrNotTimerHandler = errors.New("entity does not handle timers")
)

// ID addresses exactly one logical entity.
type ID struct {
	Kind string
	Key  string
}

func (id ID) String() string {
	return id.Kind + "/" + id.Key
}

// Entity is the value returned by a Factory. Its behaviour is reached
// through Runtime.Call and the optional interfaces below.
type Entity any

// Factory builds a fresh, not yet activated entity bound to host.
type Factory func(host *Host) Entity

// Activator loads durable state before the first call is delivered.
type Activator interface {
	Activate(ctx context.Context) error
}

// Deactivator is notified when an idle entity is dropped from memory.
type Deactivator interface {
	Deactivate(ctx context.Context) error
}

// TimerHandler receives timer firings as ordinary serialized calls.
type TimerHandler interface {
	OnTimer(ctx context.Context, t Timer) error
}

// Timer is a named durable trigger owned by one entity.
type Timer struct {
	Owner  ID
	Name   string
	DueAt  time.Time
	Period time.Duration
	State  []byte
	// Generation changes on every arm so a completing firing can tell
	// whether the timer was re-armed or removed in the meantime.
	Generation int64
}

// Periodic reports whether the timer re-fires after each delivery.
func (t Timer) Periodic() bool {
	return t.Period > 0
}
