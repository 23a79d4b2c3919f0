package dedup

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/llm"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/progress"
	"github.com/quizline/curator/internal/store"
)

// JobKind is the progress-record kind for duplicate detection runs.
const JobKind = "dedup"

// Config holds the tunables for a detection run.
type Config struct {
	// BatchSize is how many questions go into one model grouping call.
	BatchSize int
	// KeepRuns bounds job-progress retention for this kind.
	KeepRuns int
	// MaxBatchErrs aborts the job once this many batches have failed.
	// Zero means batch errors never abort the job.
	MaxBatchErrs int
	// MinConfidence discards model-proposed clusters below this confidence.
	MinConfidence float64
}

// Detector runs the two-stage duplicate detection job.
type Detector struct {
	store store.Store
	model llm.LanguageModel
	cfg   Config
}

// NewDetector creates a Detector. BatchSize <= 0 falls back to 50.
func NewDetector(st store.Store, lm llm.LanguageModel, cfg Config) *Detector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Detector{store: st, model: lm, cfg: cfg}
}

// Job is one started detection run. Callers either Execute it inline or hand
// it to a goroutine and poll the progress record by ID.
type Job struct {
	detector  *Detector
	tracker   *progress.Tracker
	questions []model.Question
	batches   [][]model.Question
}

// ID returns the progress record id for this run.
func (j *Job) ID() string { return j.tracker.RunID() }

// Run executes one full detection job to completion and returns its progress
// record id.
func (d *Detector) Run(ctx context.Context) (string, error) {
	job, err := d.Begin(ctx)
	if err != nil {
		return "", err
	}
	return job.ID(), job.Execute(ctx)
}

// Begin loads the corpus and opens the progress record, without running any
// batches yet. A corpus read failure is recorded as a failed run so pollers
// can see it.
func (d *Detector) Begin(ctx context.Context) (*Job, error) {
	tracker := progress.NewTracker(d.store, JobKind, d.cfg.KeepRuns)

	questions, err := d.store.ListScorableQuestions(ctx)
	if err != nil {
		if _, serr := tracker.Start(ctx, 0, 0); serr == nil {
			_ = tracker.Fail(ctx, 0, 0, []string{err.Error()})
		}
		return nil, eris.Wrap(err, "dedup: load corpus")
	}

	batches := partition(questions, d.cfg.BatchSize)
	if _, err := tracker.Start(ctx, len(questions), len(batches)); err != nil {
		return nil, err
	}

	return &Job{detector: d, tracker: tracker, questions: questions, batches: batches}, nil
}

// Execute runs stage A (lexical, synchronous) and the stage B batch loop.
// A batch failure is appended to the progress errors and the loop continues;
// only progress write failures or too many failed batches abort the job.
func (j *Job) Execute(ctx context.Context) error {
	d := j.detector

	found := 0
	var errs []string

	lexical, err := d.runLexicalStage(ctx, j.questions)
	if err != nil {
		errs = append(errs, fmt.Sprintf("lexical stage: %v", err))
	}
	found += lexical

	processed := 0
	for i, batch := range j.batches {
		inserted, err := d.runBatch(ctx, batch)
		if err != nil {
			errs = append(errs, fmt.Sprintf("batch %d: %v", i+1, err))
			zap.L().Warn("dedup batch failed",
				zap.Int("batch", i+1),
				zap.Error(err),
			)
		}
		found += inserted
		processed += len(batch)

		if err := j.tracker.Update(ctx, processed, i+1, found, errs); err != nil {
			_ = j.tracker.Fail(ctx, processed, found, append(errs, err.Error()))
			return err
		}

		if d.cfg.MaxBatchErrs > 0 && len(errs) >= d.cfg.MaxBatchErrs {
			err := eris.Errorf("dedup: aborting after %d failed batches", len(errs))
			_ = j.tracker.Fail(ctx, processed, found, append(errs, err.Error()))
			return err
		}
	}

	return j.tracker.Complete(ctx, processed, found, errs)
}

// runLexicalStage clusters questions whose normalized texts are equal or
// substring-related and persists each cluster. Pairwise over the corpus;
// fine for moderate pools.
func (d *Detector) runLexicalStage(ctx context.Context, questions []model.Question) (int, error) {
	norms := make([]string, len(questions))
	for i, q := range questions {
		norms[i] = Normalize(q.Text)
	}

	parent := make([]int, len(questions))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < len(questions); i++ {
		for j := i + 1; j < len(questions); j++ {
			if LexicalMatch(norms[i], norms[j]) {
				parent[find(i)] = find(j)
			}
		}
	}

	clusters := make(map[int][]string)
	for i := range questions {
		root := find(i)
		clusters[root] = append(clusters[root], questions[i].ID)
	}

	inserted := 0
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		ok, err := d.saveCluster(ctx, members, "Lexically identical or overlapping text", 1.0)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// runBatch asks the model to group one batch and persists surviving clusters.
func (d *Detector) runBatch(ctx context.Context, batch []model.Question) (int, error) {
	items := make([]llm.BatchItem, len(batch))
	for i, q := range batch {
		items[i] = llm.BatchItem{ID: q.ID, Text: q.Text}
	}

	groups, err := d.model.GroupDuplicates(ctx, items)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, g := range groups {
		if len(g.MemberIDs) < 2 || g.Confidence < d.cfg.MinConfidence {
			continue
		}
		ok, err := d.saveCluster(ctx, g.MemberIDs, g.Reason, g.Confidence)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// saveCluster inserts a pending detection unless one with the same derived
// key already covers this member set and has not been deleted.
func (d *Detector) saveCluster(ctx context.Context, members []string, reason string, confidence float64) (bool, error) {
	key := ClusterKey(members)

	inserted, err := d.store.InsertDetection(ctx, &model.DuplicateDetection{
		QuestionIDs: members,
		UniqueKey:   key,
		Reason:      reason,
		Confidence:  confidence,
		Status:      model.DetectionStatusPending,
	})
	if err != nil {
		return false, eris.Wrap(err, "dedup: insert detection")
	}
	if !inserted {
		zap.L().Debug("duplicate cluster already recorded", zap.String("unique_key", key))
	}
	return inserted, nil
}

// partition splits questions into consecutive chunks of at most size.
func partition(questions []model.Question, size int) [][]model.Question {
	var out [][]model.Question
	for start := 0; start < len(questions); start += size {
		end := start + size
		if end > len(questions) {
			end = len(questions)
		}
		out = append(out, questions[start:end])
	}
	return out
}
