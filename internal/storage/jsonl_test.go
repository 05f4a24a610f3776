package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

func TestJSONLStore_TaskStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "tasks"), logger.Nop())
	require.NoError(t, err)
	runTaskStoreContract(t, s)
}

func TestJSONLStore_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"user_id":"u1","id":"t1","task":"Backup files","files":["a"],"servers":["s"],"frequency":"PT30S"}
not json

{"user_id":"u1","id":"t2","task":"Backup files","files":["b"],"servers":["s"],"backup_frequency_pth":"PT1M"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, TasksFilename), []byte(content), 0o644))

	s, err := NewJSONLStore(dir, nil)
	require.NoError(t, err)

	defs, err := s.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "PT1M", defs[1].Frequency)
}

func TestJSONLStore_EmptyDir(t *testing.T) {
	_, err := NewJSONLStore("", nil)
	assert.Error(t, err)

	s, err := NewJSONLStore(t.TempDir(), nil)
	require.NoError(t, err)
	recs, err := s.ListStatus(context.Background(), tasks.StatusFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
