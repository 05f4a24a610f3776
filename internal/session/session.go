// Package session holds live client sessions, their bounded outbound
// queues and the user to session binding.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Next once the session has been deleted.
	ErrClosed = errors.New("session closed")
	// ErrIdle is returned by Next when no event arrived within the timeout.
	ErrIdle = errors.New("session idle")
	// ErrAlreadyAttached is returned when a second reader tries to attach.
	ErrAlreadyAttached = errors.New("session already has a reader")
)

// Overflow decides which event is lost when a full queue receives another.
type Overflow string

const (
	DropOldest Overflow = "drop_oldest"
	DropNewest Overflow = "drop_newest"
)

// Event is one outbound message, already encoded for the wire.
type Event struct {
	Method string
	Data   []byte
}

// Session is a logical channel to one client. Any number of producers may
// Enqueue; only the attached reader calls Next.
type Session struct {
	ID        string
	CreatedAt time.Time

	capacity int
	overflow Overflow

	mu         sync.Mutex
	queue      []Event
	attached   bool
	closed     bool
	lastActive time.Time

	signal chan struct{}
	done   chan struct{}
}

func newSession(id string, capacity int, overflow Overflow, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		capacity:   capacity,
		overflow:   overflow,
		lastActive: now,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// EnqueueResult reports what happened to an event and the queue.
type EnqueueResult struct {
	Accepted bool
	// Evicted is true when an older event was discarded to make room.
	Evicted bool
}

// Enqueue appends e, applying the overflow policy when the queue is full.
func (s *Session) Enqueue(e Event) EnqueueResult {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return EnqueueResult{}
	}

	var res EnqueueResult
	switch {
	case len(s.queue) < s.capacity:
		s.queue = append(s.queue, e)
		res.Accepted = true
	case s.overflow == DropNewest:
		// queue keeps its contents
	default:
		copy(s.queue, s.queue[1:])
		s.queue[len(s.queue)-1] = e
		res.Accepted = true
		res.Evicted = true
	}
	s.mu.Unlock()

	if res.Accepted {
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
	return res
}

// Next blocks until an event is available, timeout elapses (ErrIdle), the
// session is deleted (ErrClosed) or ctx is done.
func (s *Session) Next(ctx context.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.lastActive = time.Now()
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-s.signal:
		case <-s.done:
		case <-timer.C:
			return Event{}, ErrIdle
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Attach claims the single reader slot. The returned function releases it.
func (s *Session) Attach() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.attached {
		return nil, ErrAlreadyAttached
	}
	s.attached = true
	s.lastActive = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.attached = false
			s.lastActive = time.Now()
			s.mu.Unlock()
		})
	}, nil
}

// Attached reports whether a reader currently holds the session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Len returns the number of queued events.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the session is deleted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.attached
}
