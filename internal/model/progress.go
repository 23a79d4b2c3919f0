package model

import "time"

// JobStatus represents the state of a background batch job.
// Completed and failed are terminal.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobProgress is the persisted state of a long-running batch job. It is the
// single source of truth for job status: counter updates are full-snapshot
// overwrites, so re-running an update is safe for progress reporting.
type JobProgress struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Status         JobStatus `json:"status"`
	TotalUnits     int       `json:"total_units"`
	TotalBatches   int       `json:"total_batches"`
	ProcessedUnits int       `json:"processed_units"`
	CurrentBatch   int       `json:"current_batch"`
	// ResultsFound carries job-specific counter semantics, e.g. duplicate
	// clusters found for the dedup job.
	ResultsFound  int        `json:"results_found"`
	Errors        []string   `json:"errors,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// Terminal reports whether the job has finished.
func (p JobProgress) Terminal() bool {
	return p.Status == JobStatusCompleted || p.Status == JobStatusFailed
}
