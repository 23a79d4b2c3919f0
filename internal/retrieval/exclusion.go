// Package retrieval selects one acceptable question per consumer request by
// walking fallback tiers: assigned pool, preference similarity, generative,
// random.
package retrieval

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

// Exclusions is the per-consumer state that disqualifies candidates: already
// sent questions and hidden styles/tones, plus the preference embedding when
// the consumer has one.
type Exclusions struct {
	SentIDs      map[string]bool
	HiddenStyles map[string]bool
	HiddenTones  map[string]bool
	Prefs        *model.ConsumerPrefs
}

// Excludes reports whether the question is disqualified for this consumer.
func (e *Exclusions) Excludes(q *model.Question) bool {
	if e.SentIDs[q.ID] {
		return true
	}
	if q.StyleID != "" && e.HiddenStyles[q.StyleID] {
		return true
	}
	if q.ToneID != "" && e.HiddenTones[q.ToneID] {
		return true
	}
	return false
}

// SentList returns the sent ids as a slice, for store calls that take an
// exclusion list.
func (e *Exclusions) SentList() []string {
	out := make([]string, 0, len(e.SentIDs))
	for id := range e.SentIDs {
		out = append(out, id)
	}
	return out
}

// BuildExclusions loads the consumer's sent set and preferences. The two
// reads are independent, so they run concurrently.
func BuildExclusions(ctx context.Context, st store.Store, consumerKey string) (*Exclusions, error) {
	var (
		sentIDs []string
		prefs   *model.ConsumerPrefs
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sentIDs, err = st.ListInteractionQuestionIDs(gctx, consumerKey, model.InteractionSent)
		return eris.Wrap(err, "retrieval: list sent questions")
	})
	g.Go(func() error {
		var err error
		prefs, err = st.GetConsumerPrefs(gctx, consumerKey)
		return eris.Wrap(err, "retrieval: load consumer prefs")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ex := &Exclusions{
		SentIDs:      make(map[string]bool, len(sentIDs)),
		HiddenStyles: make(map[string]bool),
		HiddenTones:  make(map[string]bool),
		Prefs:        prefs,
	}
	for _, id := range sentIDs {
		ex.SentIDs[id] = true
	}
	if prefs != nil {
		for _, id := range prefs.HiddenStyleIDs {
			ex.HiddenStyles[id] = true
		}
		for _, id := range prefs.HiddenToneIDs {
			ex.HiddenTones[id] = true
		}
	}
	return ex, nil
}
