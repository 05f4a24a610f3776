// Package backup implements the Backup Job entity: one durable,
// timer-driven copy of a single file for a single server on behalf of a
// user.
//
// A job starts uninitialized. Init persists its configuration, Enable arms
// the recurring "backup" timer and every firing copies the file, appends
// status records and publishes progress to the user's session.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/bus"
	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

const (
	// Kind is the entity kind of backup jobs.
	Kind = "backup"
	// TimerName is the recurring timer every enabled job owns.
	TimerName = "backup"
	// StateKey is where the job configuration is persisted.
	StateKey = "backup_config"
)

// Progress values published over a job's life.
const (
	ProgressScheduled = 0.6
	ProgressRunning   = 0.8
	ProgressDone      = 1.0
)

var (
	ErrInvalidConfig = errors.New("invalid backup job config")
	ErrNotConfigured = errors.New("backup job is not configured")
)

// Config is the persisted description of one job.
type Config struct {
	UserID           string `json:"user_id"`
	TaskID           string `json:"task_id"`
	ServerName       string `json:"server_name"`
	FilePath         string `json:"file_path"`
	FrequencySeconds int64  `json:"frequency_seconds"`
}

// Validate reports every missing or out of range field at once.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.UserID) == "" {
		problems = append(problems, "user_id is required")
	}
	if strings.TrimSpace(c.ServerName) == "" {
		problems = append(problems, "server_name is required")
	}
	if strings.TrimSpace(c.FilePath) == "" {
		problems = append(problems, "file_path is required")
	}
	if c.FrequencySeconds <= 0 {
		problems = append(problems, fmt.Sprintf("frequency_seconds must be positive, got %d", c.FrequencySeconds))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Frequency returns the timer period.
func (c Config) Frequency() time.Duration {
	return time.Duration(c.FrequencySeconds) * time.Second
}

// Deps are the collaborators shared by every job.
type Deps struct {
	Tasks   tasks.Store
	Bus     bus.Publisher
	Copier  Copier
	Metrics *metrics.Metrics
	// OneShot disarms the timer after every run, successful or not.
	OneShot bool
}

// Job is the entity instance for one job ID.
type Job struct {
	host *actor.Host
	deps Deps
	log  *logger.Logger

	config *Config
}

var (
	_ actor.Activator    = (*Job)(nil)
	_ actor.TimerHandler = (*Job)(nil)
)

// NewFactory returns the actor.Factory for Kind.
func NewFactory(deps Deps) actor.Factory {
	return func(host *actor.Host) actor.Entity {
		return &Job{host: host, deps: deps, log: host.Logger()}
	}
}

// ProgressToken is the token progress events of jobID are published under.
func ProgressToken(jobID string) string {
	return "backup/" + jobID
}

// Activate loads the persisted configuration, if any.
func (j *Job) Activate(ctx context.Context) error {
	var cfg Config
	ok, err := j.host.GetState(ctx, StateKey, &cfg)
	if err != nil {
		return err
	}
	if ok {
		j.config = &cfg
	}
	return nil
}

// Config returns the current configuration.
func (j *Job) Config() (Config, bool) {
	if j.config == nil {
		return Config{}, false
	}
	return *j.config, true
}

// Init validates and persists cfg, records the job as scheduled and tells
// the user about it. An invalid cfg leaves the job untouched.
func (j *Job) Init(ctx context.Context, cfg Config) error {
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	cfg.FilePath = strings.TrimSpace(cfg.FilePath)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := j.host.SetState(ctx, StateKey, cfg); err != nil {
		return err
	}
	j.config = &cfg

	src := cfg.FilePath
	if p, _, err := j.deps.Copier.Paths(cfg.FilePath); err == nil {
		src = p
	}
	if err := j.appendStatus(ctx, tasks.StatusScheduled, src, ""); err != nil {
		return err
	}
	j.deps.Metrics.BackupRun(string(tasks.StatusScheduled))

	j.progress(ProgressScheduled)
	j.message(fmt.Sprintf("Backup scheduled for %s on %s", cfg.FilePath, cfg.ServerName), bus.LevelNone)

	j.log.InfoCtx(ctx, "backup job initialized",
		logger.Field{Key: "user_id", Value: cfg.UserID},
		logger.Field{Key: "file", Value: cfg.FilePath},
		logger.Field{Key: "server", Value: cfg.ServerName},
		logger.Field{Key: "frequency_seconds", Value: cfg.FrequencySeconds})
	return nil
}

// Enable arms or disarms the recurring timer. Both directions are
// idempotent; enabling an unconfigured job fails with ErrNotConfigured.
func (j *Job) Enable(ctx context.Context, on bool) error {
	if !on {
		existed, err := j.host.DisarmTimer(ctx, TimerName)
		if err != nil {
			return err
		}
		if existed {
			j.log.InfoCtx(ctx, "backup job disabled")
		}
		return nil
	}

	if j.config == nil {
		return ErrNotConfigured
	}
	freq := j.config.Frequency()
	if err := j.host.ArmTimer(ctx, TimerName, freq, freq, nil); err != nil {
		return err
	}
	j.message(fmt.Sprintf("Reminder set: every %ds", j.config.FrequencySeconds), bus.LevelNone)
	return nil
}

// OnTimer runs one backup. A failed copy is recorded, reported to the user
// and disarms the job; the copy error is returned.
func (j *Job) OnTimer(ctx context.Context, t actor.Timer) error {
	if t.Name != TimerName {
		j.log.DebugCtx(ctx, "ignoring unknown timer", logger.Field{Key: "timer", Value: t.Name})
		return nil
	}
	if j.config == nil {
		j.log.InfoCtx(ctx, "backup timer fired before init, nothing to do")
		return nil
	}
	cfg := *j.config

	j.progress(ProgressRunning)
	j.message(fmt.Sprintf("Backup running for %s on %s", cfg.FilePath, cfg.ServerName), bus.LevelNone)

	src, dst, err := j.deps.Copier.Paths(cfg.FilePath)
	if err != nil {
		return j.fail(ctx, cfg, cfg.FilePath, "", err)
	}
	if err := j.appendStatus(ctx, tasks.StatusInProgress, src, dst); err != nil {
		return err
	}
	j.deps.Metrics.BackupRun(string(tasks.StatusInProgress))

	if err := j.deps.Copier.Copy(ctx, src, dst); err != nil {
		return j.fail(ctx, cfg, src, dst, err)
	}

	if err := j.appendStatus(ctx, tasks.StatusCompleted, src, dst); err != nil {
		return err
	}
	j.deps.Metrics.BackupRun(string(tasks.StatusCompleted))
	j.progress(ProgressDone)
	j.message(fmt.Sprintf("Backup completed: src: %s dest: %s", filepath.Base(src), filepath.Base(dst)), bus.LevelInfo)

	j.log.InfoCtx(ctx, "backup completed",
		logger.Field{Key: "source", Value: src},
		logger.Field{Key: "dest", Value: dst})

	if j.deps.OneShot {
		if _, err := j.host.DisarmTimer(ctx, TimerName); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) fail(ctx context.Context, cfg Config, src, dst string, cause error) error {
	j.log.ErrorCtx(ctx, "backup failed", cause,
		logger.Field{Key: "file", Value: cfg.FilePath},
		logger.Field{Key: "server", Value: cfg.ServerName})

	var errs []error
	errs = append(errs, fmt.Errorf("backup %s: %w", j.host.ID().Key, cause))
	if err := j.appendStatus(ctx, tasks.StatusFailed, src, dst); err != nil {
		errs = append(errs, err)
	}
	j.deps.Metrics.BackupRun(string(tasks.StatusFailed))
	j.message(fmt.Sprintf("Backup failed for %s on %s: %v", cfg.FilePath, cfg.ServerName, cause), bus.LevelError)

	if _, err := j.host.DisarmTimer(ctx, TimerName); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (j *Job) appendStatus(ctx context.Context, status tasks.Status, src, dst string) error {
	cfg := j.config
	rec := tasks.StatusRecord{
		UserID:     cfg.UserID,
		TaskID:     cfg.TaskID,
		JobID:      j.host.ID().Key,
		ServerName: cfg.ServerName,
		SourcePath: src,
		DestPath:   dst,
		Status:     status,
	}
	rec.Prepare(j.host.Now())
	if err := j.deps.Tasks.AppendStatus(ctx, rec); err != nil {
		return fmt.Errorf("append %s status for %s: %w", status, j.host.ID().Key, err)
	}
	return nil
}

func (j *Job) progress(p float64) {
	if err := j.deps.Bus.PublishProgress(j.config.UserID, ProgressToken(j.host.ID().Key), p); err != nil {
		j.log.Warn("progress publish failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (j *Job) message(text string, level bus.Level) {
	if err := j.deps.Bus.PublishMessage(j.config.UserID, text, level); err != nil {
		j.log.Warn("message publish failed", logger.Field{Key: "error", Value: err.Error()})
	}
}
