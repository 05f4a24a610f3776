package backup

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbackup/internal/actor"
)

// Proxy is the typed call surface of backup jobs.
type Proxy struct {
	rt *actor.Runtime
}

func NewProxy(rt *actor.Runtime) *Proxy {
	return &Proxy{rt: rt}
}

// NewJobID returns a fresh, never reused job key.
func NewJobID() string {
	return "backup::" + uuid.NewString()
}

// ID returns the entity ID of jobID.
func ID(jobID string) actor.ID {
	return actor.ID{Kind: Kind, Key: jobID}
}

func (p *Proxy) Init(ctx context.Context, jobID string, cfg Config) error {
	return p.call(ctx, jobID, func(ctx context.Context, j *Job) error {
		return j.Init(ctx, cfg)
	})
}

func (p *Proxy) Enable(ctx context.Context, jobID string, on bool) error {
	return p.call(ctx, jobID, func(ctx context.Context, j *Job) error {
		return j.Enable(ctx, on)
	})
}

// Config returns the persisted configuration of jobID.
func (p *Proxy) Config(ctx context.Context, jobID string) (Config, bool, error) {
	var (
		cfg Config
		ok  bool
	)
	err := p.call(ctx, jobID, func(_ context.Context, j *Job) error {
		cfg, ok = j.Config()
		return nil
	})
	return cfg, ok, err
}

func (p *Proxy) call(ctx context.Context, jobID string, fn func(ctx context.Context, j *Job) error) error {
	return p.rt.Call(ctx, ID(jobID), func(ctx context.Context, e actor.Entity) error {
		j, ok := e.(*Job)
		if !ok {
			return fmt.Errorf("entity %s is %T, not a backup job", jobID, e)
		}
		return fn(ctx, j)
	})
}
