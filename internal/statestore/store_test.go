package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

func chtimes(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}

func TestWriteRunState_PersistsAllThreeTargets(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "runs"), filepath.Join(dir, "state.json"))

	run := &runmodel.BatchRun{
		RunID:         "run-1",
		StartedAt:     time.Now().UTC(),
		TotalFindings: 3,
		Status:        runmodel.RunRunning,
		DataSource:    runmodel.DataSourceMock,
	}

	require.NoError(t, store.WriteRunState(context.Background(), run))

	reloaded, err := store.ReadRunState("run-1")
	require.NoError(t, err)
	require.Equal(t, run.RunID, reloaded.RunID)
	require.Equal(t, run.TotalFindings, reloaded.TotalFindings)

	idx, err := store.ReadRunIndex()
	require.NoError(t, err)
	require.Len(t, idx.Runs, 1)
	require.Equal(t, "run-1", idx.Runs[0].RunID)

	var legacy runmodel.BatchRun
	require.NoError(t, ReadJSON(store.StateFilePath, &legacy))
	require.Equal(t, "run-1", legacy.RunID)
}

func TestWriteRunState_UpsertsExistingIndexRow(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "runs"), filepath.Join(dir, "state.json"))

	run := &runmodel.BatchRun{RunID: "run-1", Status: runmodel.RunRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, store.WriteRunState(context.Background(), run))

	run.Status = runmodel.RunCompleted
	require.NoError(t, store.WriteRunState(context.Background(), run))

	idx, err := store.ReadRunIndex()
	require.NoError(t, err)
	require.Len(t, idx.Runs, 1)
	require.Equal(t, runmodel.RunCompleted, idx.Runs[0].Status)
}

func TestFileLock_StealsStaleLock(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "state.json")

	stale := NewFileLock(target)
	require.NoError(t, stale.tryCreate("999999@some-other-host"))

	past := time.Now().Add(-lockStaleAge * 2)
	require.NoError(t, chtimes(stale.path, past))

	fresh := NewFileLock(target)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fresh.Acquire(ctx))
	require.NoError(t, fresh.Release())
}
