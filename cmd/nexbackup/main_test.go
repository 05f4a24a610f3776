package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbackup/internal/config"
	"github.com/aatumaykin/nexbackup/internal/constants"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

func TestCommandStructure(t *testing.T) {
	require.NotNil(t, rootCmd)

	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"version", "config", "serve", "task", "status", "coordinator"} {
		assert.True(t, found[expected], "command %q not registered", expected)
	}

	sub := func(parent string) map[string]bool {
		out := make(map[string]bool)
		for _, c := range rootCmd.Commands() {
			if c.Name() != parent {
				continue
			}
			for _, s := range c.Commands() {
				out[s.Name()] = true
			}
		}
		return out
	}
	assert.Equal(t, map[string]bool{"add": true, "list": true, "import": true}, sub("task"))
	assert.Equal(t, map[string]bool{"enable": true, "disable": true}, sub("coordinator"))
	assert.Equal(t, map[string]bool{"list": true}, sub("status"))
	assert.Equal(t, map[string]bool{"validate": true}, sub("config"))
}

func TestTaskAddFlags(t *testing.T) {
	args := []string{"--user", "alice", "-f", "a.txt", "-f", "b.txt", "--server", "srv1,srv2", "--frequency", "PT1H"}
	require.NoError(t, taskAddCmd.ParseFlags(args))

	assert.Equal(t, "alice", taskAddUser)
	assert.Equal(t, []string{"a.txt", "b.txt"}, taskAddFiles)
	assert.Equal(t, []string{"srv1", "srv2"}, taskAddServers)
	assert.Equal(t, "PT1H", taskAddFrequency)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(constants.EnvConfigPath, "")
	assert.Equal(t, constants.DefaultConfigPath, resolveConfigPath(""))

	t.Setenv(constants.EnvConfigPath, "/etc/nexbackup.toml")
	assert.Equal(t, "/etc/nexbackup.toml", resolveConfigPath(""))
	assert.Equal(t, "custom.toml", resolveConfigPath("custom.toml"))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	prev := configPath
	t.Cleanup(func() { configPath = prev })

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.toml")
		require.NoError(t, os.WriteFile(path, []byte("[tasks]\ndriver = \"memory\"\n[storage]\ndriver = \"memory\"\n"), 0644))
		configPath = path

		var out bytes.Buffer
		cfg, got, err := loadConfig(&out)
		require.NoError(t, err)
		assert.Equal(t, path, got)
		assert.Equal(t, "memory", cfg.Tasks.Driver)
		assert.Empty(t, out.String())
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[tasks]\ndriver = \"cassandra\"\n"), 0644))
		configPath = path

		var out bytes.Buffer
		_, _, err := loadConfig(&out)
		require.Error(t, err)
		assert.Contains(t, out.String(), "validation failed")
	})

	t.Run("missing", func(t *testing.T) {
		configPath = filepath.Join(dir, "nope.toml")

		var out bytes.Buffer
		_, _, err := loadConfig(&out)
		require.Error(t, err)
		assert.Contains(t, out.String(), "Failed to load configuration")
	})
}

func TestServeOverrides(t *testing.T) {
	prev := serveLogLevel
	t.Cleanup(func() { serveLogLevel = prev })

	cfg := config.Default()
	serveLogLevel = "debug"
	applyServeOverrides(cfg)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestAddTask(t *testing.T) {
	store := tasks.NewMemoryStore()
	ctx := context.Background()

	var out bytes.Buffer
	err := addTask(ctx, store, tasks.Definition{
		UserID: "alice", ID: "t1", Files: []string{"a.txt"}, Servers: []string{"srv1"}, Frequency: "PT30S",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Task added")
	assert.Contains(t, out.String(), "coordinator enable alice")

	defs, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, tasks.KindBackupFiles, defs[0].Task)

	err = addTask(ctx, store, tasks.Definition{
		UserID: "alice", Files: []string{"a.txt"}, Servers: []string{"srv1"}, Frequency: "every day",
	}, &out)
	assert.ErrorContains(t, err, "invalid frequency")

	err = addTask(ctx, store, tasks.Definition{
		UserID: "alice", Files: []string{"a.txt"}, Servers: []string{"srv1"}, Frequency: "PT0S",
	}, &out)
	assert.Error(t, err)
}

func TestListTasks(t *testing.T) {
	store := tasks.NewMemoryStore()
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, listTasks(ctx, store, "bob", &out))
	assert.Equal(t, "No tasks for bob\n", out.String())

	require.NoError(t, store.Create(ctx, tasks.Definition{
		UserID: "bob", ID: "t1", Files: []string{"a", "b"}, Servers: []string{"srv1"}, Frequency: "P1D",
	}))
	out.Reset()
	require.NoError(t, listTasks(ctx, store, "bob", &out))
	assert.Contains(t, out.String(), "t1")
	assert.Contains(t, out.String(), "a, b")
	assert.Contains(t, out.String(), "P1D")
}

func TestImportTasks(t *testing.T) {
	store := tasks.NewMemoryStore()
	ctx := context.Background()

	doc := `
tasks:
  - user_id: alice
    id: t1
    files: [a.txt]
    servers: [srv1, srv2]
    frequency: PT1H
  - user_id: alice
    id: t1
    files: [a.txt]
    servers: [srv1]
    frequency: PT1H
  - user_id: alice
    files: [b.txt]
    servers: [srv1]
    frequency: soon
  - user_id: carol
    files: [c.txt]
    servers: [srv3]
    frequency: P1D
`
	var out bytes.Buffer
	imported, failed, err := importTasks(ctx, store, strings.NewReader(doc), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 2, failed)
	assert.Contains(t, out.String(), "tasks[2]")
	assert.Contains(t, out.String(), "Imported 2 task(s), 2 failed")

	defs, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, []string{"srv1", "srv2"}, defs[0].Servers)

	_, _, err = importTasks(ctx, store, strings.NewReader("tasks: [unclosed"), &out)
	assert.Error(t, err)

	imported, failed, err = importTasks(ctx, store, strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Zero(t, imported)
	assert.Zero(t, failed)
}

func TestListStatus(t *testing.T) {
	store := tasks.NewMemoryStore()
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, listStatus(ctx, store, tasks.StatusFilter{}, &out))
	assert.Equal(t, constants.MsgNoStatus, out.String())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, st := range []tasks.Status{tasks.StatusScheduled, tasks.StatusInProgress, tasks.StatusCompleted} {
		require.NoError(t, store.AppendStatus(ctx, tasks.StatusRecord{
			UserID: "alice", TaskID: "t1", JobID: "backup::1", ServerName: "srv1",
			Status: st, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	out.Reset()
	require.NoError(t, listStatus(ctx, store, tasks.StatusFilter{UserID: "alice", Limit: 2}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "in_progress")
	assert.Contains(t, lines[2], "completed")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), Version)
}
