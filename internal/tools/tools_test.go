package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbackup/internal/tasks"
)

type fakeCoordinators struct {
	mu      sync.Mutex
	enabled map[string]bool
	err     error
}

func (f *fakeCoordinators) Enable(_ context.Context, userID string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.enabled == nil {
		f.enabled = map[string]bool{}
	}
	f.enabled[userID] = on
	return nil
}

type fakeBinder struct {
	bindings map[string]string
}

func (f *fakeBinder) Bind(userID, sessionID string) {
	if f.bindings == nil {
		f.bindings = map[string]string{}
	}
	f.bindings[userID] = sessionID
}

type fixture struct {
	reg    *Registry
	store  *tasks.MemoryStore
	coords *fakeCoordinators
	binder *fakeBinder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:    NewRegistry(),
		store:  tasks.NewMemoryStore(),
		coords: &fakeCoordinators{},
		binder: &fakeBinder{},
	}
	require.NoError(t, RegisterBackupTools(f.reg, BackupDeps{
		Tasks:        f.store,
		Coordinators: f.coords,
		Sessions:     f.binder,
	}))
	return f
}

func (f *fixture) call(t *testing.T, ctx context.Context, name string, args any) (string, error) {
	t.Helper()
	tool, ok := f.reg.Get(name)
	require.True(t, ok, name)
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return tool.Execute(ctx, raw)
}

type stubTool struct{ name string }

func (s stubTool) Name() string               { return s.name }
func (s stubTool) Description() string        { return "stub" }
func (s stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s stubTool) Execute(context.Context, json.RawMessage) (string, error) {
	return "ok", nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(stubTool{}))

	require.NoError(t, r.Register(stubTool{name: "b"}))
	require.NoError(t, r.Register(stubTool{name: "a"}))
	require.NoError(t, r.Register(stubTool{name: "b"}))

	schemas := r.ToSchema()
	require.Len(t, schemas, 2)
	assert.Equal(t, "a", schemas[0].Name)
	assert.Equal(t, "b", schemas[1].Name)

	data, err := json.Marshal(schemas[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","description":"stub","inputSchema":{"type":"object"}}`, string(data))

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterBackupTools_Names(t *testing.T) {
	f := newFixture(t)
	var names []string
	for _, d := range f.reg.ToSchema() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, "object", d.InputSchema["type"])
	}
	assert.Equal(t, []string{"create_backup_task", "list_backup_status", "query_backup_tasks", "setup_backup_task_agent"}, names)
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.call(t, ctx, "create_backup_task", CreateTaskArgs{
		UserID: "u1", Files: []string{"a.txt"}, Servers: []string{"srv1"}, Frequency: "PT30S",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "1 file(s) on 1 server(s) every PT30S")

	defs, err := f.store.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, tasks.KindBackupFiles, defs[0].Task)
	assert.True(t, f.coords.enabled["u1"])
}

func TestCreateTask_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args any
	}{
		{name: "missing user", args: CreateTaskArgs{Files: []string{"a"}, Servers: []string{"s"}, Frequency: "PT30S"}},
		{name: "bad frequency", args: CreateTaskArgs{UserID: "u1", Files: []string{"a"}, Servers: []string{"s"}, Frequency: "30 seconds"}},
		{name: "zero frequency", args: CreateTaskArgs{UserID: "u1", Files: []string{"a"}, Servers: []string{"s"}, Frequency: "PT0S"}},
		{name: "no files", args: CreateTaskArgs{UserID: "u1", Servers: []string{"s"}, Frequency: "PT30S"}},
		{name: "not an object", args: []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.call(t, context.Background(), "create_backup_task", tt.args)
			var te *ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "invalid_arguments", te.Code)
			assert.Empty(t, f.coords.enabled)
		})
	}
}

func TestCreateTask_CoordinatorFailure(t *testing.T) {
	f := newFixture(t)
	f.coords.err = errors.New("runtime stopped")

	_, err := f.call(t, context.Background(), "create_backup_task", CreateTaskArgs{
		UserID: "u1", Files: []string{"a"}, Servers: []string{"s"}, Frequency: "PT30S",
	})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "internal_error", te.Code)
}

func TestQueryTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.call(t, ctx, "query_backup_tasks", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "No backup tasks for u1", out)

	require.NoError(t, f.store.Create(ctx, tasks.Definition{UserID: "u1", ID: "t1", Files: []string{"a"}, Servers: []string{"s"}, Frequency: "PT30S"}))
	out, err = f.call(t, ctx, "query_backup_tasks", map[string]string{"user_id": "u1"})
	require.NoError(t, err)

	var defs []tasks.Definition
	require.NoError(t, json.Unmarshal([]byte(out), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "t1", defs[0].ID)
}

func TestSetupAgent(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, context.Background(), "setup_backup_task_agent", map[string]string{"user_id": "u1"})
	require.Error(t, err, "a session is required")

	ctx := WithSession(context.Background(), "s1")
	out, err := f.call(t, ctx, "setup_backup_task_agent", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
	assert.Equal(t, "s1", f.binder.bindings["u1"])
	assert.True(t, f.coords.enabled["u1"])
}

func TestListStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, st := range []tasks.Status{tasks.StatusScheduled, tasks.StatusInProgress, tasks.StatusCompleted} {
		require.NoError(t, f.store.AppendStatus(ctx, tasks.StatusRecord{
			UserID: "u1", TaskID: "t1", JobID: "backup::1", Status: st, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	out, err := f.call(t, ctx, "list_backup_status", map[string]any{"user_id": "u1", "limit": 2})
	require.NoError(t, err)
	var recs []tasks.StatusRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, tasks.StatusCompleted, recs[1].Status)

	out, err = f.call(t, ctx, "list_backup_status", map[string]any{"user_id": "u1", "job_id": "backup::2"})
	require.NoError(t, err)
	assert.Equal(t, "No backup status records for u1", out)
}

func TestSessionContext(t *testing.T) {
	_, ok := SessionFromContext(context.Background())
	assert.False(t, ok)
	_, ok = SessionFromContext(WithSession(context.Background(), ""))
	assert.False(t, ok)
	id, ok := SessionFromContext(WithSession(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}
