package scoring

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedQuestion(t *testing.T, st *store.SQLiteStore, q model.Question) *model.Question {
	t.Helper()
	if q.Status == "" {
		q.Status = model.QuestionStatusPublic
	}
	out, err := st.InsertQuestion(context.Background(), &q)
	require.NoError(t, err)
	return out
}

func pendingTargets(t *testing.T, st *store.SQLiteStore) []model.PruningTarget {
	t.Helper()
	targets, err := st.ListPruningTargets(context.Background(), store.TargetFilter{Status: model.PruningTargetStatusPending})
	require.NoError(t, err)
	return targets
}

func TestGather_LowLikeRate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	q := seedQuestion(t, st, model.Question{
		Text:              "What did you eat today?",
		TotalShows:        100,
		TotalLikes:        1,
		AvgViewDurationMS: 5000,
	})

	settings := DefaultSettings()
	settings.MinShowsForEngagement = 50
	settings.MinLikeRate = 0.03

	found, err := NewEngine(st, settings).Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	targets := pendingTargets(t, st)
	require.Len(t, targets, 1)
	assert.Equal(t, q.ID, targets[0].QuestionID)
	assert.Contains(t, targets[0].Reason, "1.0%")
	assert.Equal(t, 100, targets[0].Metrics.TotalShows)
	assert.Equal(t, 1, targets[0].Metrics.TotalLikes)
}

func TestGather_SkipsQuestionsBelowShowFloor(t *testing.T) {
	st := newTestStore(t)

	// 10 shows, 0 likes: too little exposure to judge engagement.
	seedQuestion(t, st, model.Question{Text: "q", TotalShows: 10, TotalLikes: 0, AvgViewDurationMS: 5000})

	found, err := NewEngine(st, DefaultSettings()).Gather(context.Background())
	require.NoError(t, err)
	assert.Zero(t, found)
	assert.Empty(t, pendingTargets(t, st))
}

func TestGather_HighHiddenRate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	q := seedQuestion(t, st, model.Question{Text: "q", TotalShows: 20, TotalLikes: 5, AvgViewDurationMS: 5000})
	for _, consumer := range []string{"u1", "u2", "u3"} {
		require.NoError(t, st.RecordInteraction(ctx, consumer, q.ID, model.InteractionHidden))
	}

	settings := DefaultSettings()
	settings.MinHiddenRate = 0.10
	settings.MinHiddenCount = 100 // force the rate branch

	found, err := NewEngine(st, settings).Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	targets := pendingTargets(t, st)
	require.Len(t, targets, 1)
	assert.Contains(t, targets[0].Reason, "High hidden count")
	assert.Equal(t, 3, targets[0].Metrics.HiddenCount)
}

func TestGather_LowAvgViewDuration(t *testing.T) {
	st := newTestStore(t)

	seedQuestion(t, st, model.Question{Text: "q", TotalShows: 40, TotalLikes: 5, AvgViewDurationMS: 800})

	settings := DefaultSettings()
	settings.MinShowsForAvgDur = 30
	settings.MinAvgViewDurationMS = 1500
	settings.MinShowsForEngagement = 100

	found, err := NewEngine(st, settings).Gather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Contains(t, pendingTargets(t, st)[0].Reason, "Low average view duration: 800ms")
}

func TestGather_StyleMismatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	q := seedQuestion(t, st, model.Question{Text: "q", StyleID: "s1", AvgViewDurationMS: 5000})
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindQuestion, q.ID, []float32{1, 0}))
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindStyle, "s1", []float32{0, 1}))

	settings := DefaultSettings()
	settings.MinStyleSimilarity = 0.5

	found, err := NewEngine(st, settings).Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	targets := pendingTargets(t, st)
	require.Len(t, targets, 1)
	assert.Contains(t, targets[0].Reason, "Style mismatch")
	require.NotNil(t, targets[0].Metrics.StyleSimilarity)
	assert.InDelta(t, 0.0, *targets[0].Metrics.StyleSimilarity, 0.001)
}

func TestGather_ToneCheckOnlyWhenEnabled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	q := seedQuestion(t, st, model.Question{Text: "q", ToneID: "t1", AvgViewDurationMS: 5000})
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindQuestion, q.ID, []float32{1, 0}))
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindTone, "t1", []float32{0, 1}))

	settings := DefaultSettings()
	settings.EnableToneCheck = false

	found, err := NewEngine(st, settings).Gather(ctx)
	require.NoError(t, err)
	assert.Zero(t, found)

	settings.EnableToneCheck = true
	found, err = NewEngine(st, settings).Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Contains(t, pendingTargets(t, st)[0].Reason, "Tone mismatch")
}

func TestGather_MultipleReasonsJoined(t *testing.T) {
	st := newTestStore(t)

	seedQuestion(t, st, model.Question{Text: "q", TotalShows: 100, TotalLikes: 0, AvgViewDurationMS: 100})

	found, err := NewEngine(st, DefaultSettings()).Gather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	reason := pendingTargets(t, st)[0].Reason
	assert.Contains(t, reason, "Low like rate")
	assert.Contains(t, reason, "Low average view duration")
	assert.Contains(t, reason, "; ")
}

func TestGather_IdempotentAndSkipsPruned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedQuestion(t, st, model.Question{Text: "flagged", TotalShows: 100, TotalLikes: 1, AvgViewDurationMS: 5000})
	pruned := time.Now().UTC()
	seedQuestion(t, st, model.Question{Text: "already pruned", Status: model.QuestionStatusPruned, PrunedAt: &pruned, TotalShows: 100, TotalLikes: 0})

	engine := NewEngine(st, DefaultSettings())

	found, err := engine.Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	// Second run with unchanged inputs overwrites the pending target rather
	// than stacking a new one.
	found, err = engine.Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	all, err := st.ListPruningTargets(ctx, store.TargetFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLoadSettings_DefaultsWhenEmpty(t *testing.T) {
	st := newTestStore(t)

	settings, err := LoadSettings(context.Background(), st, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
}

func TestLoadSettings_StoreRowWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	saved := DefaultSettings()
	saved.MinLikeRate = 0.05
	require.NoError(t, st.SavePruningSettings(ctx, saved))

	settings, err := LoadSettings(ctx, st, "")
	require.NoError(t, err)
	assert.Equal(t, 0.05, settings.MinLikeRate)
}

func TestLoadSettings_FileOverridesRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	saved := DefaultSettings()
	saved.MinLikeRate = 0.05
	require.NoError(t, st.SavePruningSettings(ctx, saved))

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_like_rate: 0.09\nenable_tone_check: true\n"), 0o644))

	settings, err := LoadSettings(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 0.09, settings.MinLikeRate)
	assert.True(t, settings.EnableToneCheck)
	// Untouched fields keep the store row's values.
	assert.Equal(t, saved.MinShowsForEngagement, settings.MinShowsForEngagement)
}
