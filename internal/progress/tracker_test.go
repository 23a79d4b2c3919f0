package progress

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestTracker(t *testing.T, kind string, keep int) (*Tracker, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewTracker(st, kind, keep), st
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t, "dedup", 10)

	run, err := tr.Start(ctx, 120, 3)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, run.Status)
	assert.Equal(t, 120, run.TotalUnits)
	assert.Equal(t, run.ID, tr.RunID())

	require.NoError(t, tr.Update(ctx, 50, 1, 2, []string{"batch 1: timeout"}))

	got, err := st.GetJobProgress(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ProcessedUnits)
	assert.Equal(t, 1, got.CurrentBatch)
	assert.Equal(t, 2, got.ResultsFound)
	assert.Equal(t, []string{"batch 1: timeout"}, got.Errors)
	assert.False(t, got.Terminal())

	require.NoError(t, tr.Complete(ctx, 120, 7, []string{"batch 1: timeout"}))

	got, err = st.GetJobProgress(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 120, got.ProcessedUnits)
	assert.Equal(t, 7, got.ResultsFound)
	require.NotNil(t, got.CompletedAt)
}

func TestTracker_Fail(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t, "gather", 10)

	run, err := tr.Start(ctx, 10, 1)
	require.NoError(t, err)

	require.NoError(t, tr.Fail(ctx, 3, 0, []string{"load corpus: connection refused"}))

	got, err := st.GetJobProgress(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.ProcessedUnits)
	assert.Equal(t, []string{"load corpus: connection refused"}, got.Errors)
	require.NotNil(t, got.CompletedAt)
}

func TestTracker_UpdateBeforeStart(t *testing.T) {
	tr, _ := newTestTracker(t, "dedup", 10)
	assert.Error(t, tr.Update(context.Background(), 1, 1, 0, nil))
	assert.Error(t, tr.Complete(context.Background(), 1, 0, nil))
	assert.Error(t, tr.Fail(context.Background(), 1, 0, nil))
}

func TestTracker_CompleteSweepsOldRuns(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t, "dedup", 3)

	// Three finished runs, then a fourth: the sweep after the fourth keeps
	// only the three most recent.
	var ids []string
	for i := 0; i < 4; i++ {
		run, err := tr.Start(ctx, 10, 1)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		require.NoError(t, tr.Complete(ctx, 10, 0, nil))
	}

	runs, err := st.ListJobProgress(ctx, "dedup", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.NotEqual(t, ids[0], r.ID)
	}
}

func TestTracker_KeepDefaultsToTen(t *testing.T) {
	tr := NewTracker(nil, "dedup", 0)
	assert.Equal(t, DefaultKeepRuns, tr.keep)
	assert.Equal(t, "dedup", tr.Kind())
}
