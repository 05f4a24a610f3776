package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
)

// Options configures a Registry.
type Options struct {
	QueueCapacity int
	Overflow      Overflow
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

// Registry owns the live sessions and the user to session bindings. Bindings
// are last-write-wins and are not cleared when their session is deleted.
type Registry struct {
	opts Options
	log  *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	bindings map[string]string

	cron *cron.Cron
}

func NewRegistry(opts Options) *Registry {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.Overflow != DropNewest {
		opts.Overflow = DropOldest
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Registry{
		opts:     opts,
		log:      opts.Logger.Component("session"),
		sessions: make(map[string]*Session),
		bindings: make(map[string]string),
	}
}

// GetOrCreate returns the session for id, creating it when absent. The
// boolean is true only for the caller that created it.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	if s, ok = r.sessions[id]; ok {
		r.mu.Unlock()
		return s, false
	}
	s = newSession(id, r.opts.QueueCapacity, r.opts.Overflow, time.Now())
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.opts.Metrics.SetSessions(n)
	r.log.Debug("session created", logger.Field{Key: "session_id", Value: id})
	return s, true
}

// Lookup returns an existing session.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Bind points user at session id, replacing any earlier binding.
func (r *Registry) Bind(userID, sessionID string) {
	r.mu.Lock()
	prev := r.bindings[userID]
	r.bindings[userID] = sessionID
	r.mu.Unlock()

	if prev != "" && prev != sessionID {
		r.log.Debug("user binding replaced",
			logger.Field{Key: "user_id", Value: userID},
			logger.Field{Key: "previous", Value: prev},
			logger.Field{Key: "session_id", Value: sessionID})
	}
}

// Resolve returns the session bound to user, or false when the user was
// never bound or the bound session no longer exists.
func (r *Registry) Resolve(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bindings[userID]
	if !ok {
		return "", false
	}
	if _, live := r.sessions[id]; !live {
		return "", false
	}
	return id, true
}

// Delete removes a session and wakes its reader. Bindings pointing at it
// are left in place.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	r.opts.Metrics.SetSessions(n)
	r.log.Debug("session deleted", logger.Field{Key: "session_id", Value: id})
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep deletes sessions without a reader whose last activity is older than
// ttl. It returns how many were removed.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		last, attached := s.idleSince()
		if !attached && now.Sub(last) > ttl {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if r.Delete(id) {
			removed++
		}
	}
	if removed > 0 {
		r.log.Info("idle sessions swept", logger.Field{Key: "removed", Value: removed})
	}
	return removed
}

// StartSweeper runs Sweep on a cron schedule such as "@every 1m".
func (r *Registry) StartSweeper(schedule string, ttl time.Duration) error {
	cl := logger.CronLogger(r.opts.Logger)
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	if _, err := c.AddFunc(schedule, func() { r.Sweep(time.Now(), ttl) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return nil
	}
	r.cron = c
	r.mu.Unlock()

	c.Start()
	return nil
}

// Close stops the sweeper and deletes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, id := range ids {
		r.Delete(id)
	}
}
