package model

import "time"

// InteractionStatus tracks the relationship between a consumer and a question.
type InteractionStatus string

const (
	InteractionUnseen InteractionStatus = "unseen"
	InteractionSeen   InteractionStatus = "seen"
	InteractionLiked  InteractionStatus = "liked"
	InteractionHidden InteractionStatus = "hidden"
	InteractionSent   InteractionStatus = "sent"
)

// UserQuestion is an interaction record between a consumer and a question.
// Created when an item is assigned or shown; mutated on every interaction.
type UserQuestion struct {
	ConsumerKey string            `json:"consumer_key"`
	QuestionID  string            `json:"question_id"`
	Status      InteractionStatus `json:"status"`
	AssignedAt  time.Time         `json:"assigned_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ConsumerRef identifies the recipient of a selection: a registered user by
// id, or an anonymous subscriber by email.
type ConsumerRef struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Key returns the storage key for interaction and preference records.
// Registered users win over emails when both are set.
func (c ConsumerRef) Key() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Email
}

// Anonymous reports whether the consumer is a bare email subscriber.
func (c ConsumerRef) Anonymous() bool {
	return c.UserID == ""
}

// ConsumerPrefs holds the per-consumer preference state used by the
// retrieval cascade. PreferenceEmbedding is nil for consumers without a
// learned preference vector.
type ConsumerPrefs struct {
	ConsumerKey         string    `json:"consumer_key"`
	PreferenceEmbedding []float32 `json:"preference_embedding,omitempty"`
	HiddenStyleIDs      []string  `json:"hidden_style_ids,omitempty"`
	HiddenToneIDs       []string  `json:"hidden_tone_ids,omitempty"`
}

// Reviewer is a minimal admin identity used to attribute review decisions.
type Reviewer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
