// Package monitoring assembles pool-health snapshots for the status command
// and the admin API.
package monitoring

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/store"
)

// Snapshot is a point-in-time view of the pool and the curation pipeline.
type Snapshot struct {
	Questions      map[string]int               `json:"questions"`
	PruningTargets map[string]int               `json:"pruning_targets"`
	Detections     map[string]int               `json:"detections"`
	LatestJobs     map[string]model.JobProgress `json:"latest_jobs,omitempty"`
}

// Collector reads pool health from the store.
type Collector struct {
	store    store.Store
	jobKinds []string
}

// NewCollector creates a Collector that also reports the most recent job of
// each given kind.
func NewCollector(st store.Store, jobKinds ...string) *Collector {
	return &Collector{store: st, jobKinds: jobKinds}
}

// Collect gathers the snapshot. The four reads are independent and run
// concurrently.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{LatestJobs: make(map[string]model.JobProgress)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Questions, err = c.store.QuestionStatusCounts(gctx)
		return eris.Wrap(err, "monitoring: question counts")
	})
	g.Go(func() error {
		var err error
		snap.PruningTargets, err = c.store.PruningTargetStatusCounts(gctx)
		return eris.Wrap(err, "monitoring: pruning target counts")
	})
	g.Go(func() error {
		var err error
		snap.Detections, err = c.store.DetectionStatusCounts(gctx)
		return eris.Wrap(err, "monitoring: detection counts")
	})

	latest := make([]*model.JobProgress, len(c.jobKinds))
	for i, kind := range c.jobKinds {
		g.Go(func() error {
			var err error
			latest[i], err = c.store.LatestJobProgress(gctx, kind)
			return eris.Wrapf(err, "monitoring: latest %s job", kind)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, kind := range c.jobKinds {
		if latest[i] != nil {
			snap.LatestJobs[kind] = *latest[i]
		}
	}
	return snap, nil
}
