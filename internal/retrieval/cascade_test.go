package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/errs"
	"github.com/quizline/curator/internal/llm"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Generate(ctx context.Context, prompt string, count int) ([]string, error) {
	args := m.Called(ctx, prompt, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockModel) GroupDuplicates(ctx context.Context, items []llm.BatchItem) ([]llm.DuplicateGroup, error) {
	args := m.Called(ctx, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]llm.DuplicateGroup), args.Error(1)
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

func TestSelect_PoolTierIdempotentUntilSent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := model.ConsumerRef{UserID: "u1"}

	seedQuestion(t, st, model.Question{ID: "Q1", Text: "first"})
	seedQuestion(t, st, model.Question{ID: "Q2", Text: "second"})
	require.NoError(t, st.AssignQuestionToPool(ctx, "u1", "Q1"))
	require.NoError(t, st.AssignQuestionToPool(ctx, "u1", "Q2"))

	cascade := NewCascade(st, nil, Config{})

	// Peek does not consume: three peeks all see Q1.
	for i := 0; i < 3; i++ {
		q, tier, err := cascade.Peek(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "Q1", q.ID)
		assert.Equal(t, TierPool, tier)
	}

	q, tier, err := cascade.Select(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Q1", q.ID)
	assert.Equal(t, TierPool, tier)

	q, _, err = cascade.Select(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Q2", q.ID)

	// Pool exhausted: the cascade falls through to the random tier.
	_, tier, err = cascade.Select(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, TierRandom, tier)
}

func TestSelect_MarksSentAndBumpsShows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedQuestion(t, st, model.Question{ID: "Q1", Text: "only one"})

	cascade := NewCascade(st, nil, Config{})
	q, _, err := cascade.Select(ctx, model.ConsumerRef{Email: "sub@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Q1", q.ID)

	sent, err := st.ListInteractionQuestionIDs(ctx, "sub@example.com", model.InteractionSent)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1"}, sent)

	got, err := st.GetQuestion(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalShows)
}

func TestPeek_SimilarityTierSkipsExcludedCandidates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	best := seedQuestion(t, st, model.Question{ID: "QA", Text: "closest match", StyleID: "hidden-style"})
	second := seedQuestion(t, st, model.Question{ID: "QB", Text: "second closest"})
	sentQ := seedQuestion(t, st, model.Question{ID: "QC", Text: "already sent"})

	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindQuestion, best.ID, []float32{1, 0}))
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindQuestion, sentQ.ID, []float32{0.95, 0.05}))
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindQuestion, second.ID, []float32{0.8, 0.2}))

	require.NoError(t, st.SaveConsumerPrefs(ctx, model.ConsumerPrefs{
		ConsumerKey:         "u1",
		PreferenceEmbedding: []float32{1, 0},
		HiddenStyleIDs:      []string{"hidden-style"},
	}))
	require.NoError(t, st.RecordInteraction(ctx, "u1", sentQ.ID, model.InteractionSent))

	q, tier, err := NewCascade(st, nil, Config{}).Peek(ctx, model.ConsumerRef{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierSimilarity, tier)
	assert.Equal(t, "QB", q.ID)
}

func TestPeek_SimilaritySkippedWithoutPreferenceEmbedding(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	q := seedQuestion(t, st, model.Question{ID: "Q1", Text: "anything"})
	require.NoError(t, st.SetEmbedding(ctx, model.EmbeddingKindQuestion, q.ID, []float32{1, 0}))

	got, tier, err := NewCascade(st, nil, Config{}).Peek(ctx, model.ConsumerRef{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierRandom, tier)
	assert.Equal(t, "Q1", got.ID)
}

func TestPeek_GenerativeTierStoresPrivateQuestion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lm := new(mockModel)
	lm.On("Generate", mock.Anything, mock.Anything, 1).
		Return([]string{"What small win are you proud of today?"}, nil)

	q, tier, err := NewCascade(st, lm, Config{}).Peek(ctx, model.ConsumerRef{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierGenerated, tier)
	assert.Equal(t, "What small win are you proud of today?", q.Text)

	stored, err := st.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionStatusPrivate, stored.Status)
}

func TestPeek_GenerationPromptIncludesLikedHistory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	liked := seedQuestion(t, st, model.Question{ID: "L1", Text: "What tradition do you cherish?"})
	require.NoError(t, st.RecordInteraction(ctx, "u1", liked.ID, model.InteractionLiked))

	lm := new(mockModel)
	lm.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "What tradition do you cherish?")
	}), 1).Return([]string{"generated text"}, nil)

	// No preference embedding, so the similarity tier is skipped and the
	// generative tier runs before random.
	_, tier, err := NewCascade(st, lm, Config{}).Peek(ctx, model.ConsumerRef{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierGenerated, tier)
	lm.AssertExpectations(t)
}

func TestPeek_GenerativeFailureFallsThroughToRandom(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedQuestion(t, st, model.Question{ID: "Q1", Text: "fallback"})

	lm := new(mockModel)
	lm.On("Generate", mock.Anything, mock.Anything, 1).Return(nil, errors.New("model down"))

	q, tier, err := NewCascade(st, lm, Config{}).Peek(ctx, model.ConsumerRef{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierRandom, tier)
	assert.Equal(t, "Q1", q.ID)
}

func TestPeek_RandomRepeatsWhenEverythingSent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedQuestion(t, st, model.Question{ID: "Q1", Text: "the only question"})
	require.NoError(t, st.RecordInteraction(ctx, "u1", "Q1", model.InteractionSent))

	q, tier, err := NewCascade(st, nil, Config{}).Peek(ctx, model.ConsumerRef{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierRandom, tier)
	assert.Equal(t, "Q1", q.ID)
}

func TestPeek_EmptyCorpus(t *testing.T) {
	st := newTestStore(t)

	_, _, err := NewCascade(st, nil, Config{}).Peek(context.Background(), model.ConsumerRef{UserID: "u1"})
	assert.True(t, errs.IsEmptyCorpus(err))
}

func TestPeek_MissingConsumerIdentity(t *testing.T) {
	st := newTestStore(t)

	_, _, err := NewCascade(st, nil, Config{}).Peek(context.Background(), model.ConsumerRef{})
	assert.True(t, errs.IsValidation(err))
}

func TestBuildExclusions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedQuestion(t, st, model.Question{ID: "Q1", Text: "a"})
	require.NoError(t, st.RecordInteraction(ctx, "u1", "Q1", model.InteractionSent))
	require.NoError(t, st.SaveConsumerPrefs(ctx, model.ConsumerPrefs{
		ConsumerKey:    "u1",
		HiddenStyleIDs: []string{"s1"},
		HiddenToneIDs:  []string{"t1"},
	}))

	ex, err := BuildExclusions(ctx, st, "u1")
	require.NoError(t, err)
	assert.True(t, ex.SentIDs["Q1"])
	assert.True(t, ex.HiddenStyles["s1"])
	assert.True(t, ex.HiddenTones["t1"])

	assert.True(t, ex.Excludes(&model.Question{ID: "Q1"}))
	assert.True(t, ex.Excludes(&model.Question{ID: "Q2", StyleID: "s1"}))
	assert.True(t, ex.Excludes(&model.Question{ID: "Q2", ToneID: "t1"}))
	assert.False(t, ex.Excludes(&model.Question{ID: "Q2"}))
}
