package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	defs    map[string]Definition
	order   []string
	records []StatusRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[string]Definition)}
}

func (s *MemoryStore) Create(_ context.Context, d Definition) error {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.ID)
	}
	s.defs[d.ID] = cloneDefinition(d)
	s.order = append(s.order, d.ID)
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, userID string) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Definition
	for _, id := range s.order {
		if d := s.defs[id]; d.UserID == userID {
			out = append(out, cloneDefinition(d))
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendStatus(_ context.Context, r StatusRecord) error {
	r.Prepare(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *MemoryStore) ListStatus(_ context.Context, f StatusFilter) ([]StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StatusRecord
	for _, r := range s.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return Tail(out, f.Limit), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Tail keeps the newest limit records of an oldest-first slice.
func Tail(records []StatusRecord, limit int) []StatusRecord {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}

func cloneDefinition(d Definition) Definition {
	d.Files = append([]string(nil), d.Files...)
	d.Servers = append([]string(nil), d.Servers...)
	return d
}
