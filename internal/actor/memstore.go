package actor

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
)

type timerKey struct {
	owner ID
	name  string
}

type memTimer struct {
	timer        Timer
	claimOwner   string
	claimedUntil time.Time
}

// MemoryTimerStore keeps timers in process memory. Used by tests and the
// "memory" storage driver.
type MemoryTimerStore struct {
	mu     sync.Mutex
	timers map[timerKey]*memTimer
}

func NewMemoryTimerStore() *MemoryTimerStore {
	return &MemoryTimerStore{timers: make(map[timerKey]*memTimer)}
}

func (s *MemoryTimerStore) Upsert(_ context.Context, t Timer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Generation = NextGeneration()
	t.State = bytes.Clone(t.State)
	s.timers[timerKey{t.Owner, t.Name}] = &memTimer{timer: t}
	return t.Generation, nil
}

func (s *MemoryTimerStore) Delete(_ context.Context, owner ID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := timerKey{owner, name}
	_, ok := s.timers[k]
	delete(s.timers, k)
	return ok, nil
}

func (s *MemoryTimerStore) Get(_ context.Context, owner ID, name string) (Timer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, ok := s.timers[timerKey{owner, name}]
	if !ok {
		return Timer{}, false, nil
	}
	return copyTimer(mt.timer), true, nil
}

func (s *MemoryTimerStore) ClaimDue(_ context.Context, now time.Time, owner string, ttl time.Duration, limit int) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*memTimer
	for _, mt := range s.timers {
		if mt.timer.DueAt.After(now) {
			continue
		}
		if !mt.claimedUntil.IsZero() && mt.claimedUntil.After(now) {
			continue
		}
		due = append(due, mt)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].timer.DueAt.Before(due[j].timer.DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Timer, 0, len(due))
	for _, mt := range due {
		mt.claimOwner = owner
		mt.claimedUntil = now.Add(ttl)
		claimed = append(claimed, copyTimer(mt.timer))
	}
	return claimed, nil
}

func (s *MemoryTimerStore) Complete(_ context.Context, t Timer, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := timerKey{t.Owner, t.Name}
	mt, ok := s.timers[k]
	if !ok || mt.timer.Generation != t.Generation {
		return nil
	}
	if next.IsZero() {
		delete(s.timers, k)
		return nil
	}
	mt.timer.DueAt = next
	mt.claimOwner = ""
	mt.claimedUntil = time.Time{}
	return nil
}

func (s *MemoryTimerStore) Release(_ context.Context, t Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, ok := s.timers[timerKey{t.Owner, t.Name}]
	if !ok || mt.timer.Generation != t.Generation {
		return nil
	}
	mt.claimOwner = ""
	mt.claimedUntil = time.Time{}
	return nil
}

// Len returns the number of stored timers.
func (s *MemoryTimerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func copyTimer(t Timer) Timer {
	t.State = bytes.Clone(t.State)
	return t
}

type stateKey struct {
	id  ID
	key string
}

// MemoryStateStore keeps entity state in process memory.
type MemoryStateStore struct {
	mu     sync.RWMutex
	values map[stateKey][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{values: make(map[stateKey][]byte)}
}

func (s *MemoryStateStore) GetState(_ context.Context, id ID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[stateKey{id, key}]
	return bytes.Clone(v), ok, nil
}

func (s *MemoryStateStore) SetState(_ context.Context, id ID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[stateKey{id, key}] = bytes.Clone(value)
	return nil
}

func (s *MemoryStateStore) DeleteState(_ context.Context, id ID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, stateKey{id, key})
	return nil
}
