package models

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the job still awaits an outcome.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

const (
	JobMessageStartFailed = "Failed to start restoration"
	JobMessageCancelled   = "Cancelled by user"
	JobMessageTimedOut    = "Processing timed out"
	JobMessageNoOutput    = "Restoration produced no output"
)

type Job struct {
	ID           string
	UserID       string
	ImagePath    string
	Status       JobStatus
	PredictionID string
	ResultURL    *string
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	TimeoutAt    *time.Time
	RefundedAt   *time.Time
	// ChargedCredits is what starting the job cost; a refund returns exactly
	// this amount, and only once.
	ChargedCredits int
}
