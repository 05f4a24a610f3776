// Package tasks defines backup task definitions, the append-only status log
// and the Store interface every task backend implements.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KindBackupFiles is the only task label the coordinator expands.
const KindBackupFiles = "Backup files"

var (
	ErrInvalidDefinition = errors.New("invalid task definition")
	ErrNotFound          = errors.New("task not found")
	ErrDuplicate         = errors.New("task already exists")
)

// Definition is a user's request to back up Files on every one of Servers
// at the given Frequency (an ISO-8601 duration).
type Definition struct {
	UserID    string    `json:"user_id" yaml:"user_id"`
	ID        string    `json:"id" yaml:"id"`
	Task      string    `json:"task" yaml:"task"`
	Files     []string  `json:"files" yaml:"files"`
	Servers   []string  `json:"servers" yaml:"servers"`
	Frequency string    `json:"frequency" yaml:"frequency"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
}

// UnmarshalJSON also accepts the older "backup_frequency_pth" and
// "backup_frequency_path" keys for Frequency.
func (d *Definition) UnmarshalJSON(data []byte) error {
	type plain Definition
	var aux struct {
		plain
		LegacyPth  string `json:"backup_frequency_pth"`
		LegacyPath string `json:"backup_frequency_path"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = Definition(aux.plain)
	if d.Frequency == "" {
		d.Frequency = aux.LegacyPth
	}
	if d.Frequency == "" {
		d.Frequency = aux.LegacyPath
	}
	return nil
}

// Normalize fills defaults: a generated ID, the backup label and trimmed
// file and server names with blanks removed.
func (d *Definition) Normalize() {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Task == "" {
		d.Task = KindBackupFiles
	}
	d.UserID = strings.TrimSpace(d.UserID)
	d.Files = compact(d.Files)
	d.Servers = compact(d.Servers)
	d.Frequency = strings.TrimSpace(d.Frequency)
}

// Validate checks the fields every backend requires. The frequency syntax is
// checked by the coordinator when the definition is expanded.
func (d Definition) Validate() error {
	var problems []string
	if d.UserID == "" {
		problems = append(problems, "user_id is required")
	}
	if d.ID == "" {
		problems = append(problems, "id is required")
	}
	if len(d.Files) == 0 {
		problems = append(problems, "at least one file is required")
	}
	if len(d.Servers) == 0 {
		problems = append(problems, "at least one server is required")
	}
	if d.Frequency == "" {
		problems = append(problems, "frequency is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

// Status is a backup lifecycle transition.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StatusRecord is one append-only entry of a job's history.
type StatusRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TaskID     string    `json:"task_id"`
	JobID      string    `json:"job_id"`
	ServerName string    `json:"server_name"`
	SourcePath string    `json:"source_path"`
	DestPath   string    `json:"dest_path"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusFilter narrows ListStatus. Empty fields match everything.
type StatusFilter struct {
	UserID string
	TaskID string
	JobID  string
	Limit  int
}

func (f StatusFilter) Match(r StatusRecord) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.TaskID != "" && r.TaskID != f.TaskID {
		return false
	}
	if f.JobID != "" && r.JobID != f.JobID {
		return false
	}
	return true
}

// Store persists task definitions and the status log.
type Store interface {
	Create(ctx context.Context, d Definition) error
	ListByOwner(ctx context.Context, userID string) ([]Definition, error)
	AppendStatus(ctx context.Context, r StatusRecord) error
	ListStatus(ctx context.Context, f StatusFilter) ([]StatusRecord, error)
	Close() error
}

// Prepare fills the ID and timestamp of a record about to be appended.
func (r *StatusRecord) Prepare(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
