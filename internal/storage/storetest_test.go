package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbackup/internal/tasks"
)

// runTaskStoreContract exercises behaviour every tasks.Store must share.
func runTaskStoreContract(t *testing.T, s tasks.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, tasks.Definition{UserID: "u1", ID: "t1", Files: []string{"a.txt", "b.txt"}, Servers: []string{"srv1"}, Frequency: "PT30S"}))
	require.NoError(t, s.Create(ctx, tasks.Definition{UserID: "u1", ID: "t2", Task: "Rotate logs", Files: []string{"c"}, Servers: []string{"srv2"}, Frequency: "P1D"}))
	require.NoError(t, s.Create(ctx, tasks.Definition{UserID: "u2", ID: "t3", Files: []string{"d"}, Servers: []string{"srv1"}, Frequency: "PT1M"}))

	err := s.Create(ctx, tasks.Definition{UserID: "u1", ID: "t1", Files: []string{"x"}, Servers: []string{"y"}, Frequency: "PT1S"})
	assert.ErrorIs(t, err, tasks.ErrDuplicate)
	assert.ErrorIs(t, s.Create(ctx, tasks.Definition{UserID: "u1", ID: "t9"}), tasks.ErrInvalidDefinition)

	defs, err := s.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "t1", defs[0].ID)
	assert.Equal(t, tasks.KindBackupFiles, defs[0].Task)
	assert.Equal(t, []string{"a.txt", "b.txt"}, defs[0].Files)
	assert.Equal(t, []string{"srv1"}, defs[0].Servers)
	assert.Equal(t, "PT30S", defs[0].Frequency)
	assert.Equal(t, "Rotate logs", defs[1].Task)

	none, err := s.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, st := range []tasks.Status{tasks.StatusScheduled, tasks.StatusInProgress, tasks.StatusCompleted, tasks.StatusCompleted} {
		require.NoError(t, s.AppendStatus(ctx, tasks.StatusRecord{
			UserID: "u1", TaskID: "t1", JobID: "backup::1", ServerName: "srv1",
			SourcePath: "/src/a.txt", DestPath: "/dst/a.txt - x", Status: st,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	require.NoError(t, s.AppendStatus(ctx, tasks.StatusRecord{UserID: "u2", TaskID: "t3", JobID: "backup::2", Status: tasks.StatusFailed}))

	recs, err := s.ListStatus(ctx, tasks.StatusFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, recs, 4, "duplicate completed records are kept")
	assert.Equal(t, tasks.StatusScheduled, recs[0].Status)
	assert.Equal(t, tasks.StatusCompleted, recs[3].Status)
	assert.Equal(t, "/dst/a.txt - x", recs[3].DestPath)
	assert.NotEmpty(t, recs[0].ID)

	recs, err = s.ListStatus(ctx, tasks.StatusFilter{JobID: "backup::2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, tasks.StatusFailed, recs[0].Status)

	recs, err = s.ListStatus(ctx, tasks.StatusFilter{UserID: "u1", TaskID: "t1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, tasks.StatusCompleted, recs[1].Status)
}
