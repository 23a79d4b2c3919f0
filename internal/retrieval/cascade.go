package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/errs"
	"github.com/quizline/curator/internal/llm"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

// Tier names a cascade stage in results and logs.
type Tier string

const (
	TierPool       Tier = "pool"
	TierSimilarity Tier = "similarity"
	TierGenerated  Tier = "generated"
	TierRandom     Tier = "random"
)

// Config holds the cascade tunables.
type Config struct {
	// SimilarityTopK is how many nearest neighbors the similarity tier
	// fetches before filtering. Defaults to 100.
	SimilarityTopK int
}

// Cascade walks the selection tiers in order and stops at the first hit.
// A nil language model disables the generative tier.
type Cascade struct {
	store store.Store
	model llm.LanguageModel
	topK  int
}

// NewCascade creates a Cascade.
func NewCascade(st store.Store, lm llm.LanguageModel, cfg Config) *Cascade {
	topK := cfg.SimilarityTopK
	if topK <= 0 {
		topK = 100
	}
	return &Cascade{store: st, model: lm, topK: topK}
}

// Peek picks the question that would be delivered to the consumer without
// marking anything sent, so repeated calls before delivery return the same
// pool item. A tier error never surfaces while a later tier can still
// succeed; EmptyCorpusError means every tier, random included, came up empty.
func (c *Cascade) Peek(ctx context.Context, ref model.ConsumerRef) (*model.Question, Tier, error) {
	key := ref.Key()
	if key == "" {
		return nil, "", errs.Validationf("consumer requires a user id or email")
	}

	if q := c.tryPool(ctx, key); q != nil {
		return q, TierPool, nil
	}

	ex, err := BuildExclusions(ctx, c.store, key)
	if err != nil {
		zap.L().Warn("exclusion build failed, continuing unfiltered",
			zap.String("consumer", key),
			zap.Error(err),
		)
		ex = &Exclusions{
			SentIDs:      map[string]bool{},
			HiddenStyles: map[string]bool{},
			HiddenTones:  map[string]bool{},
		}
	}

	if q := c.trySimilarity(ctx, key, ex); q != nil {
		return q, TierSimilarity, nil
	}
	if q := c.tryGenerate(ctx, key, ex); q != nil {
		return q, TierGenerated, nil
	}
	if q := c.tryRandom(ctx, key, ex); q != nil {
		return q, TierRandom, nil
	}

	return nil, "", &errs.EmptyCorpusError{}
}

// Select finalizes a delivery: Peek, then mark the question sent for this
// consumer and bump its show counter, exactly once. Callers treat the pair
// as one logical unit; concurrent selects for the same consumer may race.
func (c *Cascade) Select(ctx context.Context, ref model.ConsumerRef) (*model.Question, Tier, error) {
	q, tier, err := c.Peek(ctx, ref)
	if err != nil {
		return nil, tier, err
	}

	if err := c.store.RecordInteraction(ctx, ref.Key(), q.ID, model.InteractionSent); err != nil {
		return nil, tier, eris.Wrapf(err, "retrieval: mark question %s sent", q.ID)
	}
	if err := c.store.TouchQuestionShown(ctx, q.ID); err != nil {
		zap.L().Warn("show counter update failed",
			zap.String("question_id", q.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("question selected",
		zap.String("consumer", ref.Key()),
		zap.String("question_id", q.ID),
		zap.String("tier", string(tier)),
	)
	return q, tier, nil
}

// tryPool returns the earliest-assigned unseen pool question, if any.
func (c *Cascade) tryPool(ctx context.Context, key string) *model.Question {
	q, err := c.store.NextPoolQuestion(ctx, key)
	if err != nil {
		zap.L().Warn("pool tier failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	return q
}

// trySimilarity scans the top-K nearest questions in rank order and accepts
// the first one that survives the selectability and exclusion filters.
func (c *Cascade) trySimilarity(ctx context.Context, key string, ex *Exclusions) *model.Question {
	if ex.Prefs == nil || len(ex.Prefs.PreferenceEmbedding) == 0 {
		return nil
	}

	ranked, err := c.store.NearestQuestions(ctx, ex.Prefs.PreferenceEmbedding, c.topK)
	if err != nil {
		zap.L().Warn("similarity tier failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	if len(ranked) == 0 {
		return nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.QuestionID
	}
	questions, err := c.store.ListQuestionsByIDs(ctx, ids)
	if err != nil {
		zap.L().Warn("similarity candidate load failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	for _, r := range ranked {
		q, ok := byID[r.QuestionID]
		if !ok {
			// Embedding row outlived its question; skip, don't error.
			continue
		}
		if !q.Selectable() || ex.Excludes(q) {
			continue
		}
		return q
	}
	return nil
}

// tryGenerate asks the model for a fresh question seeded with the consumer's
// liked history and stores it as a private question owned by this delivery.
func (c *Cascade) tryGenerate(ctx context.Context, key string, ex *Exclusions) *model.Question {
	if c.model == nil {
		return nil
	}

	texts, err := c.model.Generate(ctx, c.generationPrompt(ctx, key), 1)
	if err != nil {
		zap.L().Warn("generative tier failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	if len(texts) == 0 || strings.TrimSpace(texts[0]) == "" {
		return nil
	}

	q, err := c.store.InsertQuestion(ctx, &model.Question{
		Text:   strings.TrimSpace(texts[0]),
		Status: model.QuestionStatusPrivate,
	})
	if err != nil {
		zap.L().Warn("generated question save failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	return q
}

// generationPrompt seeds the model with up to five of the consumer's liked
// questions. History lookups are best effort; a bare prompt still works.
func (c *Cascade) generationPrompt(ctx context.Context, key string) string {
	base := "The question should suit a daily reflection prompt for one reader."

	likedIDs, err := c.store.ListInteractionQuestionIDs(ctx, key, model.InteractionLiked)
	if err != nil || len(likedIDs) == 0 {
		return base
	}
	if len(likedIDs) > 5 {
		likedIDs = likedIDs[:5]
	}
	liked, err := c.store.ListQuestionsByIDs(ctx, likedIDs)
	if err != nil || len(liked) == 0 {
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\nThe reader liked these questions:\n")
	for _, q := range liked {
		fmt.Fprintf(&sb, "- %s\n", q.Text)
	}
	return sb.String()
}

// tryRandom returns any available question, preferring ones the consumer has
// not been sent, then anything at all.
func (c *Cascade) tryRandom(ctx context.Context, key string, ex *Exclusions) *model.Question {
	q, err := c.store.RandomQuestion(ctx, ex.SentList())
	if err != nil {
		zap.L().Warn("random tier failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	if q != nil {
		return q
	}

	// Everything has been sent already; repeating one beats returning nothing.
	q, err = c.store.RandomQuestion(ctx, nil)
	if err != nil {
		zap.L().Warn("random tier failed", zap.String("consumer", key), zap.Error(err))
		return nil
	}
	return q
}
