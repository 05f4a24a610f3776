package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateRace(t *testing.T) {
	r := NewRegistry(Options{})

	var created atomic.Int32
	var wg sync.WaitGroup
	seen := make([]*Session, 32)
	for i := range seen {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, isNew := r.GetOrCreate("shared")
			if isNew {
				created.Add(1)
			}
			seen[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, s := range seen {
		assert.Same(t, seen[0], s)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_BindResolve(t *testing.T) {
	r := NewRegistry(Options{})

	_, ok := r.Resolve("alice")
	assert.False(t, ok, "never bound")

	r.GetOrCreate("s1")
	r.GetOrCreate("s2")
	r.Bind("alice", "s1")
	id, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "s1", id)

	r.Bind("alice", "s2")
	id, ok = r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "s2", id, "last write wins")
}

func TestRegistry_DeleteLeavesDanglingBinding(t *testing.T) {
	r := NewRegistry(Options{})
	r.GetOrCreate("s1")
	r.Bind("alice", "s1")

	assert.True(t, r.Delete("s1"))
	assert.False(t, r.Delete("s1"))

	_, ok := r.Resolve("alice")
	assert.False(t, ok)
	_, ok = r.Lookup("s1")
	assert.False(t, ok)

	// the binding survives, so a reconnect under the same id resumes delivery
	r.GetOrCreate("s1")
	id, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry(Options{})
	idle, _ := r.GetOrCreate("idle")
	busy, _ := r.GetOrCreate("busy")
	r.GetOrCreate("fresh")

	detach, err := busy.Attach()
	require.NoError(t, err)
	defer detach()

	old := time.Now().Add(-time.Hour)
	idle.mu.Lock()
	idle.lastActive = old
	idle.mu.Unlock()
	busy.mu.Lock()
	busy.lastActive = old
	busy.mu.Unlock()

	removed := r.Sweep(time.Now(), 30*time.Minute)
	assert.Equal(t, 1, removed)
	_, ok := r.Lookup("idle")
	assert.False(t, ok)
	_, ok = r.Lookup("busy")
	assert.True(t, ok, "attached sessions are never swept")
	_, ok = r.Lookup("fresh")
	assert.True(t, ok)
}

func TestRegistry_SweeperScheduleAndClose(t *testing.T) {
	r := NewRegistry(Options{})
	assert.Error(t, r.StartSweeper("not a schedule", time.Minute))
	require.NoError(t, r.StartSweeper("@every 1h", time.Minute))

	s, _ := r.GetOrCreate("s1")
	r.Close()
	assert.Equal(t, 0, r.Len())
	select {
	case <-s.Done():
	default:
		t.Fatal("session not closed")
	}
}
