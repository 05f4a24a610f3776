// Package coordinator implements the per-user Task Coordinator entity.
//
// A coordinator owns the RetrieveTasksReminder timer. When it fires the
// coordinator reads the user's task definitions and starts one backup job
// for every (definition, server, file) combination.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/backup"
	"github.com/aatumaykin/nexbackup/internal/bus"
	"github.com/aatumaykin/nexbackup/internal/duration"
	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

const (
	// Kind is the entity kind of coordinators; the key is the user ID.
	Kind = "coordinator"
	// TimerName is the reminder that triggers task expansion.
	TimerName = "RetrieveTasksReminder"

	DefaultDue    = 5 * time.Second
	DefaultPeriod = 5 * time.Second
)

// JobStarter creates backup jobs. backup.Proxy implements it.
type JobStarter interface {
	Init(ctx context.Context, jobID string, cfg backup.Config) error
	Enable(ctx context.Context, jobID string, on bool) error
}

// Options controls the reminder timer.
type Options struct {
	Due    time.Duration
	Period time.Duration
	// RearmAfterExpand keeps the reminder recurring instead of removing it
	// on the first firing.
	RearmAfterExpand bool
}

// Deps are shared by every coordinator.
type Deps struct {
	Tasks   tasks.Store
	Jobs    JobStarter
	Bus     bus.Publisher
	Metrics *metrics.Metrics
	Options Options
}

// Result summarizes one expansion.
type Result struct {
	Jobs   []string
	Failed int
}

// Coordinator is the entity instance for one user.
type Coordinator struct {
	host *actor.Host
	deps Deps
	log  *logger.Logger
}

var _ actor.TimerHandler = (*Coordinator)(nil)

func NewFactory(deps Deps) actor.Factory {
	if deps.Options.Due <= 0 {
		deps.Options.Due = DefaultDue
	}
	if deps.Options.Period <= 0 {
		deps.Options.Period = DefaultPeriod
	}
	return func(host *actor.Host) actor.Entity {
		return &Coordinator{host: host, deps: deps, log: host.Logger()}
	}
}

func (c *Coordinator) userID() string {
	return c.host.ID().Key
}

// Enable arms or removes the reminder. Both directions are idempotent.
func (c *Coordinator) Enable(ctx context.Context, on bool) error {
	if !on {
		if _, err := c.host.DisarmTimer(ctx, TimerName); err != nil {
			return err
		}
		c.log.InfoCtx(ctx, "coordinator disabled")
		return nil
	}

	opts := c.deps.Options
	if err := c.host.ArmTimer(ctx, TimerName, opts.Due, opts.Period, nil); err != nil {
		return err
	}
	c.log.InfoCtx(ctx, "coordinator enabled",
		logger.Field{Key: "due", Value: opts.Due.String()},
		logger.Field{Key: "period", Value: opts.Period.String()})
	return nil
}

// ListTasks returns the user's task definitions.
func (c *Coordinator) ListTasks(ctx context.Context) ([]tasks.Definition, error) {
	defs, err := c.deps.Tasks.ListByOwner(ctx, c.userID())
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", c.userID(), err)
	}
	return defs, nil
}

// OnTimer removes the reminder unless re-arming is configured, then
// expands the user's tasks. When the task store cannot be read the reminder
// is armed again so the expansion is retried. The returned error only
// summarizes failures; successful jobs are never rolled back.
func (c *Coordinator) OnTimer(ctx context.Context, t actor.Timer) error {
	if t.Name != TimerName {
		c.log.DebugCtx(ctx, "ignoring unknown timer", logger.Field{Key: "timer", Value: t.Name})
		return nil
	}
	if !c.deps.Options.RearmAfterExpand {
		if _, err := c.host.DisarmTimer(ctx, TimerName); err != nil {
			return err
		}
	}

	defs, err := c.ListTasks(ctx)
	if err != nil {
		if !c.deps.Options.RearmAfterExpand {
			if aerr := c.Enable(ctx, true); aerr != nil {
				return errors.Join(err, aerr)
			}
		}
		return err
	}
	_, err = c.expand(ctx, defs)
	return err
}

// Expand starts a fresh backup job for every server and file of every
// "Backup files" definition. A bad frequency fails only its definition and
// a failing job only itself.
func (c *Coordinator) Expand(ctx context.Context) (Result, error) {
	defs, err := c.ListTasks(ctx)
	if err != nil {
		return Result{}, err
	}
	return c.expand(ctx, defs)
}

func (c *Coordinator) expand(ctx context.Context, defs []tasks.Definition) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for _, def := range defs {
		if def.Task != tasks.KindBackupFiles {
			c.log.DebugCtx(ctx, "skipping task of another kind",
				logger.Field{Key: "task_id", Value: def.ID},
				logger.Field{Key: "task", Value: def.Task})
			continue
		}

		secs, err := duration.Seconds(def.Frequency)
		if err == nil && secs <= 0 {
			err = fmt.Errorf("%w: %q is not positive", duration.ErrInvalid, def.Frequency)
		}
		if err != nil {
			err = fmt.Errorf("task %s: %w", def.ID, err)
			res.Failed++
			errs = append(errs, err)
			c.deps.Metrics.JobExpanded(err)
			c.report(ctx, fmt.Sprintf("Task %s has an invalid frequency %q", def.ID, def.Frequency), err)
			continue
		}

		for _, server := range def.Servers {
			for _, file := range def.Files {
				jobID, err := c.startJob(ctx, backup.Config{
					UserID:           def.UserID,
					TaskID:           def.ID,
					ServerName:       server,
					FilePath:         file,
					FrequencySeconds: secs,
				})
				c.deps.Metrics.JobExpanded(err)
				if err != nil {
					res.Failed++
					errs = append(errs, err)
					c.report(ctx, fmt.Sprintf("Could not schedule backup of %s on %s", file, server), err)
					continue
				}
				res.Jobs = append(res.Jobs, jobID)
			}
		}
	}

	c.log.InfoCtx(ctx, "tasks expanded",
		logger.Field{Key: "definitions", Value: len(defs)},
		logger.Field{Key: "jobs", Value: len(res.Jobs)},
		logger.Field{Key: "failed", Value: res.Failed})
	return res, errors.Join(errs...)
}

func (c *Coordinator) startJob(ctx context.Context, cfg backup.Config) (string, error) {
	if cfg.UserID == "" {
		cfg.UserID = c.userID()
	}
	jobID := backup.NewJobID()
	if err := c.deps.Jobs.Init(ctx, jobID, cfg); err != nil {
		return "", fmt.Errorf("init %s: %w", jobID, err)
	}
	if err := c.deps.Jobs.Enable(ctx, jobID, true); err != nil {
		return "", fmt.Errorf("enable %s: %w", jobID, err)
	}
	return jobID, nil
}

func (c *Coordinator) report(ctx context.Context, text string, cause error) {
	c.log.ErrorCtx(ctx, text, cause)
	if err := c.deps.Bus.PublishMessage(c.userID(), text+": "+cause.Error(), bus.LevelError); err != nil {
		c.log.Warn("message publish failed", logger.Field{Key: "error", Value: err.Error()})
	}
}
