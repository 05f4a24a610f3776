package actor

import (
	"context"
	"sync/atomic"
	"time"
)

// TimerStore persists timers and hands out due ones under a lease.
type TimerStore interface {
	// Upsert creates or replaces a timer, clears any lease and assigns a new
	// generation, which is returned.
	Upsert(ctx context.Context, t Timer) (int64, error)
	// Delete removes a timer, reporting whether it existed.
	Delete(ctx context.Context, owner ID, name string) (bool, error)
	// Get returns a single timer.
	Get(ctx context.Context, owner ID, name string) (Timer, bool, error)
	// ClaimDue leases up to limit timers whose due time is not after now and
	// whose previous lease, if any, has expired.
	ClaimDue(ctx context.Context, now time.Time, owner string, ttl time.Duration, limit int) ([]Timer, error)
	// Complete finishes a claimed firing. A zero next deletes the timer,
	// otherwise it is rescheduled at next. Nothing happens when the stored
	// generation differs from t.Generation.
	Complete(ctx context.Context, t Timer, next time.Time) error
	// Release drops the lease so the timer is redelivered on the next poll.
	Release(ctx context.Context, t Timer) error
}

// StateStore is a durable key/value store scoped by entity ID.
type StateStore interface {
	GetState(ctx context.Context, id ID, key string) ([]byte, bool, error)
	SetState(ctx context.Context, id ID, key string, value []byte) error
	DeleteState(ctx context.Context, id ID, key string) error
}

var lastGeneration atomic.Int64

// NextGeneration returns a strictly increasing generation number. It is
// derived from the wall clock so values keep growing across restarts.
func NextGeneration() int64 {
	for {
		prev := lastGeneration.Load()
		next := time.Now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if lastGeneration.CompareAndSwap(prev, next) {
			return next
		}
	}
}
