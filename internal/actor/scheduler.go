package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/nexbackup/internal/logger"
)

// Start launches the timer poll loop.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	if r.cron != nil {
		return nil
	}

	cl := logger.CronLogger(r.opts.Logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := fmt.Sprintf("@every %s", r.opts.PollInterval)
	if _, err := c.AddFunc(spec, r.poll); err != nil {
		return fmt.Errorf("failed to schedule timer poll %q: %w", spec, err)
	}
	c.Start()
	r.cron = c

	r.log.Info("timer scheduler started",
		logger.Field{Key: "owner", Value: r.opts.Owner},
		logger.Field{Key: "poll_interval", Value: r.opts.PollInterval.String()})
	return nil
}

// Stop halts the poll loop, fails queued calls with ErrStopped, deactivates
// every live entity and waits for them until ctx expires.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	c := r.cron
	r.mu.Unlock()

	r.cancel()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return fmt.Errorf("timer scheduler stop: %w", ctx.Err())
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("entity shutdown: %w", ctx.Err())
	}

	r.log.Info("entity runtime stopped")
	return nil
}

func (r *Runtime) poll() {
	if _, err := r.FireDue(r.ctx, r.now()); err != nil && r.ctx.Err() == nil {
		r.log.Error("timer poll failed", err)
	}
}

// FireDue claims every timer due at now and delivers it to its owner,
// running up to MaxConcurrentFires handlers at once. It returns the number
// of timers claimed. Handler errors are logged; only store failures are
// returned.
func (r *Runtime) FireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := r.timers.ClaimDue(ctx, now, r.opts.Owner, r.opts.ClaimTTL, r.opts.ClaimBatch)
	if err != nil {
		return 0, fmt.Errorf("claim due timers: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrentFires)
	for _, t := range due {
		t := t
		g.Go(func() error {
			return r.fire(ctx, t, now)
		})
	}
	return len(due), g.Wait()
}

func (r *Runtime) fire(ctx context.Context, t Timer, now time.Time) error {
	fields := []logger.Field{
		{Key: "entity", Value: t.Owner.String()},
		{Key: "timer", Value: t.Name},
	}

	start := time.Now()
	err := r.Call(ctx, t.Owner, func(ctx context.Context, e Entity) error {
		h, ok := e.(TimerHandler)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotTimerHandler, t.Owner)
		}
		return h.OnTimer(ctx, t)
	})
	r.opts.Metrics.TimerFired(t.Owner.Kind, err, time.Since(start))

	if errors.Is(err, ErrStopped) || ctx.Err() != nil {
		// Lease is dropped so the next poll, possibly in another process,
		// redelivers the timer.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := r.timers.Release(relCtx, t); rerr != nil {
			r.log.Warn("timer release failed", append(fields, logger.Field{Key: "error", Value: rerr.Error()})...)
		}
		return nil
	}
	if err != nil {
		r.log.Error("timer handler failed", err, fields...)
	}

	var next time.Time
	switch {
	case t.Periodic():
		next = now.Add(t.Period)
	case err != nil:
		next = now.Add(r.opts.RetryDelay)
	}

	if cerr := r.timers.Complete(ctx, t, next); cerr != nil {
		return fmt.Errorf("complete timer %s/%s: %w", t.Owner, t.Name, cerr)
	}
	r.log.Debug("timer fired", fields...)
	return nil
}
