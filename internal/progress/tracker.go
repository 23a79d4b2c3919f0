// Package progress tracks long-running batch jobs through the store, with
// snapshot-overwrite updates and a retention sweep on completion.
package progress

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

// DefaultKeepRuns is how many finished runs per kind survive the retention
// sweep that follows a terminal transition.
const DefaultKeepRuns = 10

// Tracker records the lifecycle of one job run of a given kind. A Tracker is
// bound to a single run once Start has been called; updates are full-snapshot
// overwrites so a repeated update is harmless.
type Tracker struct {
	store store.Store
	kind  string
	keep  int

	runID string
}

// NewTracker creates a Tracker for jobs of the given kind. keep <= 0 falls
// back to DefaultKeepRuns.
func NewTracker(st store.Store, kind string, keep int) *Tracker {
	if keep <= 0 {
		keep = DefaultKeepRuns
	}
	return &Tracker{store: st, kind: kind, keep: keep}
}

// Kind returns the job kind this tracker records.
func (t *Tracker) Kind() string { return t.kind }

// RunID returns the id of the current run, or "" before Start.
func (t *Tracker) RunID() string { return t.runID }

// Start records the beginning of a run and remembers its id.
func (t *Tracker) Start(ctx context.Context, totalUnits, totalBatches int) (*model.JobProgress, error) {
	p, err := t.store.CreateJobProgress(ctx, t.kind, totalUnits, totalBatches)
	if err != nil {
		return nil, eris.Wrapf(err, "progress: start %s run", t.kind)
	}
	t.runID = p.ID

	zap.L().Info("job started",
		zap.String("kind", t.kind),
		zap.String("run_id", p.ID),
		zap.Int("total_units", totalUnits),
		zap.Int("total_batches", totalBatches),
	)
	return p, nil
}

// Update overwrites the run's counters and error list with the given snapshot.
func (t *Tracker) Update(ctx context.Context, processedUnits, currentBatch, resultsFound int, errs []string) error {
	if t.runID == "" {
		return eris.New("progress: update before start")
	}
	if err := t.store.UpdateJobProgress(ctx, t.runID, processedUnits, currentBatch, resultsFound, errs); err != nil {
		return eris.Wrapf(err, "progress: update %s run %s", t.kind, t.runID)
	}
	return nil
}

// Complete marks the run as completed and sweeps old runs of the same kind,
// keeping the most recent ones. A sweep failure is logged, not returned: the
// run itself finished fine.
func (t *Tracker) Complete(ctx context.Context, processedUnits, resultsFound int, errs []string) error {
	if t.runID == "" {
		return eris.New("progress: complete before start")
	}
	if err := t.store.FinishJobProgress(ctx, t.runID, model.JobStatusCompleted, processedUnits, resultsFound, errs); err != nil {
		return eris.Wrapf(err, "progress: complete %s run %s", t.kind, t.runID)
	}

	zap.L().Info("job completed",
		zap.String("kind", t.kind),
		zap.String("run_id", t.runID),
		zap.Int("processed_units", processedUnits),
		zap.Int("results_found", resultsFound),
		zap.Int("errors", len(errs)),
	)

	if deleted, err := t.store.CleanupJobProgress(ctx, t.kind, t.keep); err != nil {
		zap.L().Warn("job history sweep failed",
			zap.String("kind", t.kind),
			zap.Error(err),
		)
	} else if deleted > 0 {
		zap.L().Debug("job history swept",
			zap.String("kind", t.kind),
			zap.Int("deleted", deleted),
		)
	}
	return nil
}

// Fail marks the run as failed with the given errors. The retention sweep
// runs here too so a crashing job cannot grow history without bound.
func (t *Tracker) Fail(ctx context.Context, processedUnits, resultsFound int, errs []string) error {
	if t.runID == "" {
		return eris.New("progress: fail before start")
	}
	if err := t.store.FinishJobProgress(ctx, t.runID, model.JobStatusFailed, processedUnits, resultsFound, errs); err != nil {
		return eris.Wrapf(err, "progress: fail %s run %s", t.kind, t.runID)
	}

	zap.L().Warn("job failed",
		zap.String("kind", t.kind),
		zap.String("run_id", t.runID),
		zap.Strings("job_errors", errs),
	)

	if _, err := t.store.CleanupJobProgress(ctx, t.kind, t.keep); err != nil {
		zap.L().Warn("job history sweep failed",
			zap.String("kind", t.kind),
			zap.Error(err),
		)
	}
	return nil
}
