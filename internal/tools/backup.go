package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aatumaykin/nexbackup/internal/duration"
	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

const defaultStatusLimit = 20

// Coordinators arms and disarms per-user task coordinators.
type Coordinators interface {
	Enable(ctx context.Context, userID string, on bool) error
}

// Binder routes a user's notifications to a session.
type Binder interface {
	Bind(userID, sessionID string)
}

// BackupDeps are the collaborators of the backup tools.
type BackupDeps struct {
	Tasks        tasks.Store
	Coordinators Coordinators
	Sessions     Binder
	Logger       *logger.Logger
}

// RegisterBackupTools registers every backup tool in r.
func RegisterBackupTools(r *Registry, deps BackupDeps) error {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	for _, t := range []Tool{
		&CreateTaskTool{deps: deps},
		&QueryTasksTool{deps: deps},
		&SetupAgentTool{deps: deps},
		&ListStatusTool{deps: deps},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func decodeArgs(name string, raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewValidationError(fmt.Sprintf("failed to parse %s arguments", name), "arguments must be a JSON object", err)
	}
	return nil
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", NewValidationError("user_id is required", "pass the user the task belongs to", nil)
	}
	return userID, nil
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", NewInternalError("failed to encode result", err)
	}
	return string(data), nil
}

var userSchema = map[string]any{
	"type":        "string",
	"description": "Owner of the backup tasks.",
}

// CreateTaskTool stores a new backup task and arms the user's coordinator.
type CreateTaskTool struct {
	deps BackupDeps
}

// CreateTaskArgs are the arguments of create_backup_task.
type CreateTaskArgs struct {
	UserID    string   `json:"user_id"`
	Files     []string `json:"files"`
	Servers   []string `json:"servers"`
	Frequency string   `json:"frequency"`
	Task      string   `json:"task,omitempty"`
}

func (t *CreateTaskTool) Name() string {
	return "create_backup_task"
}

func (t *CreateTaskTool) Description() string {
	return "Creates a recurring backup task that copies every listed file on every listed server at an ISO-8601 frequency such as PT30S or P1D."
}

func (t *CreateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": userSchema,
			"files": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "File paths relative to the backup source root.",
			},
			"servers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Server names the files are backed up for.",
			},
			"frequency": map[string]any{
				"type":        "string",
				"description": "ISO-8601 duration between runs, e.g. PT30S, PT1H, P1D.",
			},
		},
		"required": []string{"user_id", "files", "servers", "frequency"},
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args CreateTaskArgs
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return "", err
	}
	userID, err := requireUser(args.UserID)
	if err != nil {
		return "", err
	}

	secs, err := duration.Seconds(args.Frequency)
	if err == nil && secs <= 0 {
		err = duration.ErrInvalid
	}
	if err != nil {
		return "", NewValidationError(fmt.Sprintf("invalid frequency %q", args.Frequency), "use an ISO-8601 duration like PT30S or P1D", err)
	}

	def := tasks.Definition{
		UserID:    userID,
		Task:      args.Task,
		Files:     args.Files,
		Servers:   args.Servers,
		Frequency: args.Frequency,
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return "", NewValidationError(err.Error(), "", err)
	}
	if err := t.deps.Tasks.Create(ctx, def); err != nil {
		if errors.Is(err, tasks.ErrInvalidDefinition) || errors.Is(err, tasks.ErrDuplicate) {
			return "", NewValidationError(err.Error(), "", err)
		}
		return "", NewInternalError("failed to store task", err)
	}
	if err := t.deps.Coordinators.Enable(ctx, userID, true); err != nil {
		return "", NewInternalError("task stored but coordinator could not be enabled", err)
	}

	t.deps.Logger.InfoCtx(ctx, "backup task created",
		logger.Field{Key: "user_id", Value: userID},
		logger.Field{Key: "task_id", Value: def.ID})
	return fmt.Sprintf("Backup task %s created: %d file(s) on %d server(s) every %s",
		def.ID, len(def.Files), len(def.Servers), def.Frequency), nil
}

// QueryTasksTool lists a user's backup tasks.
type QueryTasksTool struct {
	deps BackupDeps
}

func (t *QueryTasksTool) Name() string {
	return "query_backup_tasks"
}

func (t *QueryTasksTool) Description() string {
	return "Lists the backup tasks stored for a user."
}

func (t *QueryTasksTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"user_id": userSchema},
		"required":   []string{"user_id"},
	}
}

func (t *QueryTasksTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		UserID string `json:"user_id"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return "", err
	}
	userID, err := requireUser(args.UserID)
	if err != nil {
		return "", err
	}

	defs, err := t.deps.Tasks.ListByOwner(ctx, userID)
	if err != nil {
		return "", NewInternalError("failed to list tasks", err)
	}
	if len(defs) == 0 {
		return fmt.Sprintf("No backup tasks for %s", userID), nil
	}
	return toJSON(defs)
}

// SetupAgentTool binds the user to the calling session and enables the
// user's coordinator.
type SetupAgentTool struct {
	deps BackupDeps
}

func (t *SetupAgentTool) Name() string {
	return "setup_backup_task_agent"
}

func (t *SetupAgentTool) Description() string {
	return "Routes the user's backup notifications to this session and starts the agent that turns stored tasks into scheduled backup jobs."
}

func (t *SetupAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"user_id": userSchema},
		"required":   []string{"user_id"},
	}
}

func (t *SetupAgentTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		UserID string `json:"user_id"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return "", err
	}
	userID, err := requireUser(args.UserID)
	if err != nil {
		return "", err
	}
	sessionID, ok := SessionFromContext(ctx)
	if !ok {
		return "", NewValidationError("no calling session", "call this tool over the gateway with an Mcp-Session-Id header", nil)
	}

	t.deps.Sessions.Bind(userID, sessionID)
	if err := t.deps.Coordinators.Enable(ctx, userID, true); err != nil {
		return "", NewInternalError("failed to enable coordinator", err)
	}
	return fmt.Sprintf("Backup agent ready for %s, notifications go to session %s", userID, sessionID), nil
}

// ListStatusTool returns the most recent status records.
type ListStatusTool struct {
	deps BackupDeps
}

func (t *ListStatusTool) Name() string {
	return "list_backup_status"
}

func (t *ListStatusTool) Description() string {
	return "Shows the latest backup status records of a user, optionally narrowed to one task or job."
}

func (t *ListStatusTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": userSchema,
			"task_id": map[string]any{"type": "string", "description": "Only records of this task."},
			"job_id":  map[string]any{"type": "string", "description": "Only records of this job."},
			"limit": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of records, newest last. Default %d.", defaultStatusLimit),
			},
		},
		"required": []string{"user_id"},
	}
}

func (t *ListStatusTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		UserID string `json:"user_id"`
		TaskID string `json:"task_id"`
		JobID  string `json:"job_id"`
		Limit  int    `json:"limit"`
	}
	if err := decodeArgs(t.Name(), raw, &args); err != nil {
		return "", err
	}
	userID, err := requireUser(args.UserID)
	if err != nil {
		return "", err
	}
	if args.Limit <= 0 {
		args.Limit = defaultStatusLimit
	}

	recs, err := t.deps.Tasks.ListStatus(ctx, tasks.StatusFilter{
		UserID: userID,
		TaskID: args.TaskID,
		JobID:  args.JobID,
		Limit:  args.Limit,
	})
	if err != nil {
		return "", NewInternalError("failed to list status", err)
	}
	if len(recs) == 0 {
		return fmt.Sprintf("No backup status records for %s", userID), nil
	}
	return toJSON(recs)
}
