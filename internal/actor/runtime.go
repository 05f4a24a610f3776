package actor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
)

// Options tunes a Runtime. Zero values fall back to defaults.
type Options struct {
	// Owner identifies this process in timer leases.
	Owner              string
	PollInterval       time.Duration
	ClaimTTL           time.Duration
	IdleTimeout        time.Duration
	RetryDelay         time.Duration
	MaxConcurrentFires int
	ClaimBatch         int
	MailboxSize        int
	Logger             *logger.Logger
	Metrics            *metrics.Metrics
	// Now overrides the clock used when arming timers.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Owner == "" {
		o.Owner = "local"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = time.Minute
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.MaxConcurrentFires <= 0 {
		o.MaxConcurrentFires = 16
	}
	if o.ClaimBatch <= 0 {
		o.ClaimBatch = o.MaxConcurrentFires * 4
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Runtime hosts entities and drives their timers.
type Runtime struct {
	timers TimerStore
	state  StateStore
	opts   Options
	log    *logger.Logger

	mu        sync.Mutex
	factories map[string]Factory
	active    map[ID]*activation
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

type call struct {
	ctx  context.Context
	fn   func(ctx context.Context, e Entity) error
	done chan error
}

type activation struct {
	id        ID
	host      *Host
	entity    Entity
	activated bool
	mailbox   chan *call
	exited    chan struct{}
	// pending counts calls acquired but not yet finished; guarded by Runtime.mu.
	pending int
}

// New creates a runtime over the given stores. Calls are accepted right
// away; Start only launches the timer poll loop.
func New(timers TimerStore, state StateStore, opts Options) *Runtime {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		timers:    timers,
		state:     state,
		opts:      opts,
		log:       opts.Logger.Component("actor"),
		factories: make(map[string]Factory),
		active:    make(map[ID]*activation),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register binds a factory to an entity kind. Registering the same kind
// twice replaces the factory for future activations.
func (r *Runtime) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Call delivers fn to the entity addressed by id, activating it first when
// needed, and waits for the result.
func (r *Runtime) Call(ctx context.Context, id ID, fn func(ctx context.Context, e Entity) error) error {
	a, err := r.acquire(id)
	if err != nil {
		return err
	}

	c := &call{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case a.mailbox <- c:
	case <-ctx.Done():
		r.release(a)
		return ctx.Err()
	case <-a.exited:
		r.release(a)
		return ErrStopped
	}

	select {
	case err := <-c.done:
		return err
	case <-a.exited:
		select {
		case err := <-c.done:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of entities currently in memory.
func (r *Runtime) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// IsActive reports whether id currently has a live activation.
func (r *Runtime) IsActive(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Timer reads a timer straight from the store.
func (r *Runtime) Timer(ctx context.Context, owner ID, name string) (Timer, bool, error) {
	return r.timers.Get(ctx, owner, name)
}

func (r *Runtime) acquire(id ID) (*activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrStopped
	}
	factory, ok := r.factories[id.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, id.Kind)
	}

	a, ok := r.active[id]
	if !ok {
		host := &Host{id: id, rt: r}
		a = &activation{
			id:      id,
			host:    host,
			entity:  factory(host),
			mailbox: make(chan *call, r.opts.MailboxSize),
			exited:  make(chan struct{}),
		}
		r.active[id] = a
		r.wg.Add(1)
		go r.run(a)
	}
	a.pending++
	return a, nil
}

func (r *Runtime) release(a *activation) {
	r.mu.Lock()
	a.pending--
	r.mu.Unlock()
}

func (r *Runtime) run(a *activation) {
	defer r.wg.Done()
	defer close(a.exited)

	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case c := <-a.mailbox:
			r.execute(a, c)
			r.release(a)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.IdleTimeout)

		case <-idle.C:
			r.mu.Lock()
			if a.pending > 0 {
				r.mu.Unlock()
				idle.Reset(r.opts.IdleTimeout)
				continue
			}
			delete(r.active, a.id)
			r.mu.Unlock()
			r.deactivate(a, "idle")
			return

		case <-r.ctx.Done():
			r.mu.Lock()
			delete(r.active, a.id)
			r.mu.Unlock()
			for {
				select {
				case c := <-a.mailbox:
					c.done <- ErrStopped
					continue
				default:
				}
				break
			}
			r.deactivate(a, "shutdown")
			return
		}
	}
}

func (r *Runtime) execute(a *activation, c *call) {
	if err := c.ctx.Err(); err != nil {
		c.done <- err
		return
	}

	if !a.activated {
		if err := r.activate(c.ctx, a); err != nil {
			c.done <- err
			return
		}
	}

	c.done <- r.safeCall(a, func() error { return c.fn(c.ctx, a.entity) })
}

func (r *Runtime) activate(ctx context.Context, a *activation) error {
	var err error
	if act, ok := a.entity.(Activator); ok {
		err = r.safeCall(a, func() error { return act.Activate(ctx) })
	}
	r.opts.Metrics.Activated(a.id.Kind, err)

	if err != nil {
		r.log.Error("entity activation failed", err, logger.Field{Key: "entity", Value: a.id.String()})
		r.mu.Lock()
		factory := r.factories[a.id.Kind]
		r.mu.Unlock()
		a.entity = factory(a.host)
		return fmt.Errorf("%w: %s: %w", ErrActivation, a.id, err)
	}

	a.activated = true
	r.log.Debug("entity activated", logger.Field{Key: "entity", Value: a.id.String()})
	return nil
}

func (r *Runtime) deactivate(a *activation, reason string) {
	if !a.activated {
		return
	}
	r.opts.Metrics.Deactivated(a.id.Kind)

	if d, ok := a.entity.(Deactivator); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.safeCall(a, func() error { return d.Deactivate(ctx) }); err != nil {
			r.log.Warn("entity deactivation failed",
				logger.Field{Key: "entity", Value: a.id.String()},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
	r.log.Debug("entity deactivated",
		logger.Field{Key: "entity", Value: a.id.String()},
		logger.Field{Key: "reason", Value: reason})
}

func (r *Runtime) safeCall(a *activation, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("entity %s panicked: %v", a.id, p)
			r.log.Error("entity panic recovered", err,
				logger.Field{Key: "entity", Value: a.id.String()},
				logger.Field{Key: "stack", Value: string(debug.Stack())})
		}
	}()
	return fn()
}

func (r *Runtime) now() time.Time {
	return r.opts.Now()
}
