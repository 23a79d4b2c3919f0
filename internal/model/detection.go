package model

import "time"

// DetectionStatus represents the review state of a duplicate cluster.
type DetectionStatus string

const (
	DetectionStatusPending  DetectionStatus = "pending"
	DetectionStatusApproved DetectionStatus = "approved"
	DetectionStatusRejected DetectionStatus = "rejected"
	DetectionStatusDeleted  DetectionStatus = "deleted"
)

// DuplicateDetection is a cluster of question ids believed to be duplicates.
// UniqueKey is derived from the sorted member ids so a retried batch cannot
// insert the same cluster twice.
type DuplicateDetection struct {
	ID           string          `json:"id"`
	QuestionIDs  []string        `json:"question_ids"`
	UniqueKey    string          `json:"unique_key,omitempty"`
	Reason       string          `json:"reason"`
	Confidence   float64         `json:"confidence"`
	Status       DetectionStatus `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy   string          `json:"reviewed_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DetectionMember pairs a cluster member with its current question snapshot
// for the review surface.
type DetectionMember struct {
	Question  Question `json:"question"`
	StyleName string   `json:"style_name,omitempty"`
	ToneName  string   `json:"tone_name,omitempty"`
}

// DetectionReview is a pending detection joined with resolvable members.
type DetectionReview struct {
	Detection DuplicateDetection `json:"detection"`
	Members   []DetectionMember  `json:"members"`
}
