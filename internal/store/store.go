// Package store persists questions, interactions, curation state, and job
// progress behind a driver-agnostic interface with Postgres and SQLite
// implementations.
package store

import (
	"context"
	"time"

	"github.com/quizline/curator/internal/model"
)

// TargetFilter specifies criteria for listing pruning targets.
type TargetFilter struct {
	Status model.PruningTargetStatus `json:"status,omitempty"`
	Limit  int                       `json:"limit,omitempty"`
}

// DetectionFilter specifies criteria for listing duplicate detections.
type DetectionFilter struct {
	Status model.DetectionStatus `json:"status,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
}

// Store defines the persistence interface for the curation pipeline and the
// retrieval cascade.
type Store interface {
	// Questions
	InsertQuestion(ctx context.Context, q *model.Question) (*model.Question, error)
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error)
	ListScorableQuestions(ctx context.Context) ([]model.Question, error)
	DeleteQuestion(ctx context.Context, id string) error
	SetQuestionStatus(ctx context.Context, id string, status model.QuestionStatus) error
	MarkQuestionPruned(ctx context.Context, id string) error
	TouchQuestionShown(ctx context.Context, id string) error
	RandomQuestion(ctx context.Context, excludeIDs []string) (*model.Question, error)

	// Interactions and pool assignment
	RecordInteraction(ctx context.Context, consumerKey, questionID string, status model.InteractionStatus) error
	ListInteractionQuestionIDs(ctx context.Context, consumerKey string, status model.InteractionStatus) ([]string, error)
	HiddenCounts(ctx context.Context) (map[string]int, error)
	AssignQuestionToPool(ctx context.Context, consumerKey, questionID string) error
	NextPoolQuestion(ctx context.Context, consumerKey string) (*model.Question, error)

	// Reference data and consumers
	ListStyles(ctx context.Context) ([]model.Style, error)
	ListTones(ctx context.Context) ([]model.Tone, error)
	UpsertStyle(ctx context.Context, s model.Style) error
	UpsertTone(ctx context.Context, t model.Tone) error
	UpsertReviewer(ctx context.Context, r model.Reviewer) error
	GetConsumerPrefs(ctx context.Context, consumerKey string) (*model.ConsumerPrefs, error)
	SaveConsumerPrefs(ctx context.Context, prefs model.ConsumerPrefs) error
	GetReviewerByEmail(ctx context.Context, email string) (*model.Reviewer, error)

	// Embeddings and vector search
	GetEmbedding(ctx context.Context, kind model.EmbeddingKind, ownerID string) ([]float32, error)
	SetEmbedding(ctx context.Context, kind model.EmbeddingKind, ownerID string, vec []float32) error
	ListEmbeddings(ctx context.Context, kind model.EmbeddingKind) (map[string][]float32, error)
	NearestQuestions(ctx context.Context, vec []float32, k int) ([]model.ScoredQuestion, error)

	// Pruning settings and targets
	GetPruningSettings(ctx context.Context) (*model.PruningSettings, error)
	SavePruningSettings(ctx context.Context, s model.PruningSettings) error
	UpsertPendingPruningTarget(ctx context.Context, t *model.PruningTarget) error
	GetPruningTarget(ctx context.Context, id string) (*model.PruningTarget, error)
	ListPruningTargets(ctx context.Context, filter TargetFilter) ([]model.PruningTarget, error)
	ResolvePruningTarget(ctx context.Context, id string, status model.PruningTargetStatus, prunedAt *time.Time) error

	// Duplicate detections
	InsertDetection(ctx context.Context, d *model.DuplicateDetection) (bool, error)
	HasActiveDetection(ctx context.Context, uniqueKey string) (bool, error)
	GetDetection(ctx context.Context, id string) (*model.DuplicateDetection, error)
	ListDetections(ctx context.Context, filter DetectionFilter) ([]model.DuplicateDetection, error)
	UpdateDetectionStatus(ctx context.Context, id string, status model.DetectionStatus, reviewedBy, rejectReason string) error

	// Job progress
	CreateJobProgress(ctx context.Context, kind string, totalUnits, totalBatches int) (*model.JobProgress, error)
	UpdateJobProgress(ctx context.Context, id string, processedUnits, currentBatch, resultsFound int, errs []string) error
	FinishJobProgress(ctx context.Context, id string, status model.JobStatus, processedUnits, resultsFound int, errs []string) error
	GetJobProgress(ctx context.Context, id string) (*model.JobProgress, error)
	LatestJobProgress(ctx context.Context, kind string) (*model.JobProgress, error)
	ListJobProgress(ctx context.Context, kind string, limit int) ([]model.JobProgress, error)
	CleanupJobProgress(ctx context.Context, kind string, keep int) (int, error)

	// Monitoring
	QuestionStatusCounts(ctx context.Context) (map[string]int, error)
	PruningTargetStatusCounts(ctx context.Context) (map[string]int, error)
	DetectionStatusCounts(ctx context.Context) (map[string]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
