package model

import "time"

// PruningTargetStatus represents the review state of a pruning target.
type PruningTargetStatus string

const (
	PruningTargetStatusPending  PruningTargetStatus = "pending"
	PruningTargetStatusApproved PruningTargetStatus = "approved"
	PruningTargetStatusRejected PruningTargetStatus = "rejected"
)

// PruningMetrics is the snapshot of engagement signals captured when a
// question was flagged.
type PruningMetrics struct {
	TotalShows        int      `json:"total_shows"`
	TotalLikes        int      `json:"total_likes"`
	AvgViewDurationMS float64  `json:"avg_view_duration_ms"`
	HiddenCount       int      `json:"hidden_count"`
	StyleSimilarity   *float64 `json:"style_similarity,omitempty"`
	ToneSimilarity    *float64 `json:"tone_similarity,omitempty"`
}

// PruningTarget is a question flagged for removal, awaiting a human decision.
// At most one pending target exists per question; re-scoring overwrites the
// pending record rather than stacking new ones.
type PruningTarget struct {
	ID         string              `json:"id"`
	QuestionID string              `json:"question_id"`
	Reason     string              `json:"reason"`
	Status     PruningTargetStatus `json:"status"`
	Metrics    PruningMetrics      `json:"metrics"`
	PrunedAt   *time.Time          `json:"pruned_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// PruningSettings holds the scoring thresholds. A single row is persisted;
// when absent the engine falls back to compiled defaults.
type PruningSettings struct {
	MinShowsForEngagement int     `json:"min_shows_for_engagement" yaml:"min_shows_for_engagement"`
	MinLikeRate           float64 `json:"min_like_rate" yaml:"min_like_rate"`
	MinShowsForAvgDur     int     `json:"min_shows_for_avg_duration" yaml:"min_shows_for_avg_duration"`
	MinAvgViewDurationMS  float64 `json:"min_avg_view_duration_ms" yaml:"min_avg_view_duration_ms"`
	MinHiddenCount        int     `json:"min_hidden_count" yaml:"min_hidden_count"`
	MinHiddenRate         float64 `json:"min_hidden_rate" yaml:"min_hidden_rate"`
	MinStyleSimilarity    float64 `json:"min_style_similarity" yaml:"min_style_similarity"`
	MinToneSimilarity     float64 `json:"min_tone_similarity" yaml:"min_tone_similarity"`
	EnableToneCheck       bool    `json:"enable_tone_check" yaml:"enable_tone_check"`
}
