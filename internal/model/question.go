// Package model defines the domain types shared across the curator.
package model

import "time"

// QuestionStatus represents the lifecycle state of a question.
type QuestionStatus string

const (
	QuestionStatusPending  QuestionStatus = "pending"
	QuestionStatusApproved QuestionStatus = "approved"
	QuestionStatusPublic   QuestionStatus = "public"
	QuestionStatusPrivate  QuestionStatus = "private"
	QuestionStatusPruning  QuestionStatus = "pruning"
	QuestionStatusPruned   QuestionStatus = "pruned"
)

// PoolStatus marks pre-generated daily content assignment.
type PoolStatus string

const (
	PoolStatusUnassigned PoolStatus = ""
	PoolStatusAssigned   PoolStatus = "assigned"
	PoolStatusDelivered  PoolStatus = "delivered"
)

// Question is a short text item in the content pool.
type Question struct {
	ID              string         `json:"id"`
	Text            string         `json:"text"`
	StyleID         string         `json:"style_id,omitempty"`
	ToneID          string         `json:"tone_id,omitempty"`
	TopicID         string         `json:"topic_id,omitempty"`
	Status          QuestionStatus `json:"status"`
	TotalShows      int            `json:"total_shows"`
	TotalLikes      int            `json:"total_likes"`
	TotalThumbsDown int            `json:"total_thumbs_down"`
	// AvgViewDurationMS is the running average view duration in milliseconds.
	AvgViewDurationMS float64    `json:"avg_view_duration_ms"`
	LastShownAt       *time.Time `json:"last_shown_at,omitempty"`
	// PrunedAt is set exactly once when the question is pruned and never cleared.
	PrunedAt   *time.Time `json:"pruned_at,omitempty"`
	PoolStatus PoolStatus `json:"pool_status,omitempty"`
	PoolDate   *time.Time `json:"pool_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Scorable reports whether the question is eligible for quality scoring.
// Pruned questions are never rescored; questions with an unset status are
// included alongside public and approved ones.
func (q Question) Scorable() bool {
	if q.PrunedAt != nil {
		return false
	}
	switch q.Status {
	case QuestionStatusPublic, QuestionStatusApproved, "":
		return true
	default:
		return false
	}
}

// Selectable reports whether the question may be offered to a consumer.
func (q Question) Selectable() bool {
	if q.Text == "" || q.PrunedAt != nil {
		return false
	}
	switch q.Status {
	case QuestionStatusPublic, QuestionStatusApproved, "":
		return true
	default:
		return false
	}
}

// Style is a reference entity describing how a question is phrased.
type Style struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tone is a reference entity describing the emotional register of a question.
type Tone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EmbeddingKind identifies the entity family an embedding belongs to.
// Embeddings are stored independently of the owning entity so they can be
// absent, stale, or backfilled asynchronously.
type EmbeddingKind string

const (
	EmbeddingKindQuestion EmbeddingKind = "question"
	EmbeddingKindStyle    EmbeddingKind = "style"
	EmbeddingKindTone     EmbeddingKind = "tone"
)

// ScoredQuestion is a question id ranked by vector similarity.
type ScoredQuestion struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
}
