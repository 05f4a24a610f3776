package coordinator

import (
	"context"
	"fmt"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

// Proxy is the typed call surface of coordinators, addressed by user ID.
type Proxy struct {
	rt *actor.Runtime
}

func NewProxy(rt *actor.Runtime) *Proxy {
	return &Proxy{rt: rt}
}

// ID returns the coordinator ID of userID.
func ID(userID string) actor.ID {
	return actor.ID{Kind: Kind, Key: userID}
}

func (p *Proxy) Enable(ctx context.Context, userID string, on bool) error {
	return p.call(ctx, userID, func(ctx context.Context, c *Coordinator) error {
		return c.Enable(ctx, on)
	})
}

func (p *Proxy) ListTasks(ctx context.Context, userID string) ([]tasks.Definition, error) {
	var defs []tasks.Definition
	err := p.call(ctx, userID, func(ctx context.Context, c *Coordinator) error {
		var err error
		defs, err = c.ListTasks(ctx)
		return err
	})
	return defs, err
}

// Expand runs an expansion immediately, outside the reminder.
func (p *Proxy) Expand(ctx context.Context, userID string) (Result, error) {
	var res Result
	err := p.call(ctx, userID, func(ctx context.Context, c *Coordinator) error {
		var err error
		res, err = c.Expand(ctx)
		return err
	})
	return res, err
}

// Armed reports whether the user's reminder is currently armed.
func (p *Proxy) Armed(ctx context.Context, userID string) (bool, error) {
	_, ok, err := p.rt.Timer(ctx, ID(userID), TimerName)
	return ok, err
}

func (p *Proxy) call(ctx context.Context, userID string, fn func(ctx context.Context, c *Coordinator) error) error {
	return p.rt.Call(ctx, ID(userID), func(ctx context.Context, e actor.Entity) error {
		c, ok := e.(*Coordinator)
		if !ok {
			return fmt.Errorf("entity %s is %T, not a coordinator", userID, e)
		}
		return fn(ctx, c)
	})
}
