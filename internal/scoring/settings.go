// Package scoring flags low-performing or misaligned questions as pruning
// targets from engagement and embedding-similarity signals.
package scoring

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

// DefaultSettings returns the compiled threshold defaults, used when no
// settings row has been saved and no override file is configured.
func DefaultSettings() model.PruningSettings {
	return model.PruningSettings{
		MinShowsForEngagement: 50,
		MinLikeRate:           0.03,
		MinShowsForAvgDur:     30,
		MinAvgViewDurationMS:  1500,
		MinHiddenCount:        4,
		MinHiddenRate:         0.10,
		MinStyleSimilarity:    0.50,
		MinToneSimilarity:     0.50,
		EnableToneCheck:       false,
	}
}

// LoadSettings resolves the thresholds for a scoring run: compiled defaults,
// overridden by the persisted settings row if one exists, overridden in turn
// by the YAML file at path if given. The file override lets an operator tune
// a single deployment without touching the shared row.
func LoadSettings(ctx context.Context, st store.Store, path string) (model.PruningSettings, error) {
	settings := DefaultSettings()

	saved, err := st.GetPruningSettings(ctx)
	if err != nil {
		return settings, eris.Wrap(err, "scoring: load settings")
	}
	if saved != nil {
		settings = *saved
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return settings, eris.Wrapf(err, "scoring: read settings file %s", path)
		}
		if err := yaml.Unmarshal(raw, &settings); err != nil {
			return settings, eris.Wrapf(err, "scoring: parse settings file %s", path)
		}
		zap.L().Info("scoring settings overridden from file", zap.String("path", path))
	}

	return settings, nil
}
