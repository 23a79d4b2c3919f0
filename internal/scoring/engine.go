package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/similarity"
	"github.com/quizline/curator/internal/store"
)

// Engine runs the pruning-target gathering pass. Thresholds are injected at
// construction so a run is deterministic over its inputs.
type Engine struct {
	store    store.Store
	settings model.PruningSettings
}

// NewEngine creates an Engine with the given thresholds.
func NewEngine(st store.Store, settings model.PruningSettings) *Engine {
	return &Engine{store: st, settings: settings}
}

// Gather scans every scorable question, evaluates the quality signals, and
// upserts a pending pruning target for each question with at least one flag.
// It returns the number of targets touched this run. Questions that are
// already pruned never reach the scan: the store filters them out.
//
// This is a full corpus scan with O(1) lookups per question. Fine for pools
// in the tens of thousands; it does not shard across workers.
func (e *Engine) Gather(ctx context.Context) (int, error) {
	questions, err := e.store.ListScorableQuestions(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: list questions")
	}

	hidden, err := e.store.HiddenCounts(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: load hidden counts")
	}

	questionVecs, err := e.store.ListEmbeddings(ctx, model.EmbeddingKindQuestion)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: load question embeddings")
	}
	styleVecs, err := e.store.ListEmbeddings(ctx, model.EmbeddingKindStyle)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: load style embeddings")
	}
	var toneVecs map[string][]float32
	if e.settings.EnableToneCheck {
		toneVecs, err = e.store.ListEmbeddings(ctx, model.EmbeddingKindTone)
		if err != nil {
			return 0, eris.Wrap(err, "scoring: load tone embeddings")
		}
	}

	found := 0
	for _, q := range questions {
		reasons, metrics := e.evaluate(q, hidden[q.ID], questionVecs[q.ID], styleVecs[q.StyleID], toneVecs[q.ToneID])
		if len(reasons) == 0 {
			continue
		}

		target := &model.PruningTarget{
			QuestionID: q.ID,
			Reason:     strings.Join(reasons, "; "),
			Status:     model.PruningTargetStatusPending,
			Metrics:    metrics,
		}
		if err := e.store.UpsertPendingPruningTarget(ctx, target); err != nil {
			return found, eris.Wrapf(err, "scoring: upsert target for question %s", q.ID)
		}
		found++
	}

	zap.L().Info("pruning scan complete",
		zap.Int("questions_scanned", len(questions)),
		zap.Int("targets_found", found),
	)
	return found, nil
}

// evaluate applies every signal to one question and returns the triggered
// reasons plus the metrics snapshot captured for the review UI.
func (e *Engine) evaluate(q model.Question, hiddenCount int, qVec, styleVec, toneVec []float32) ([]string, model.PruningMetrics) {
	s := e.settings
	var reasons []string

	metrics := model.PruningMetrics{
		TotalShows:        q.TotalShows,
		TotalLikes:        q.TotalLikes,
		AvgViewDurationMS: q.AvgViewDurationMS,
		HiddenCount:       hiddenCount,
	}

	if q.TotalShows > s.MinShowsForEngagement {
		likeRate := float64(q.TotalLikes) / float64(q.TotalShows)
		if likeRate < s.MinLikeRate {
			reasons = append(reasons, fmt.Sprintf("Low like rate: %.1f%% (min %.1f%%)", likeRate*100, s.MinLikeRate*100))
		}
	}

	if q.TotalShows > s.MinShowsForAvgDur && q.AvgViewDurationMS < s.MinAvgViewDurationMS {
		reasons = append(reasons, fmt.Sprintf("Low average view duration: %.0fms (min %.0fms)", q.AvgViewDurationMS, s.MinAvgViewDurationMS))
	}

	hiddenRate := 0.0
	if q.TotalShows > 0 {
		hiddenRate = float64(hiddenCount) / float64(q.TotalShows)
	}
	if hiddenCount > s.MinHiddenCount || hiddenRate > s.MinHiddenRate {
		reasons = append(reasons, fmt.Sprintf("High hidden count: %d hides / %d shows", hiddenCount, q.TotalShows))
	}

	if len(qVec) > 0 && len(styleVec) > 0 {
		sim := similarity.Cosine(qVec, styleVec)
		metrics.StyleSimilarity = &sim
		if sim < s.MinStyleSimilarity {
			reasons = append(reasons, fmt.Sprintf("Style mismatch: similarity %.2f (min %.2f)", sim, s.MinStyleSimilarity))
		}
	}

	if s.EnableToneCheck && len(qVec) > 0 && len(toneVec) > 0 {
		sim := similarity.Cosine(qVec, toneVec)
		metrics.ToneSimilarity = &sim
		if sim < s.MinToneSimilarity {
			reasons = append(reasons, fmt.Sprintf("Tone mismatch: similarity %.2f (min %.2f)", sim, s.MinToneSimilarity))
		}
	}

	return reasons, metrics
}
