// Package dashboard keeps a client's view of its restoration jobs and credit
// balance current against the API.
package dashboard

import (
	"time"

	"photorestore/internal/models"
)

// Job is a restoration job as the API reports it.
type Job struct {
	ID           string           `json:"id"`
	Status       models.JobStatus `json:"status"`
	ImagePath    string           `json:"image_path"`
	ResultURL    *string          `json:"result_url"`
	ErrorMessage *string          `json:"error_message"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
}

// Elapsed is the processing time of a finished job, zero while it runs.
func (j Job) Elapsed() time.Duration {
	if j.CompletedAt == nil {
		return 0
	}
	start := j.CreatedAt
	if j.StartedAt != nil {
		start = *j.StartedAt
	}
	if d := j.CompletedAt.Sub(start); d > 0 {
		return d
	}
	return 0
}

// HasActiveJobs reports whether any job is pending or processing.
func HasActiveJobs(jobs []Job) bool {
	for _, job := range jobs {
		if job.Status.Active() {
			return true
		}
	}
	return false
}

// Transition is a status change worth telling the user about.
type Transition struct {
	Job  Job
	From models.JobStatus
}

// DiffJobs compares two job lists by id and returns the jobs that moved into
// completed or failed. New ids and unchanged statuses produce nothing, so an
// empty prev yields no transitions.
func DiffJobs(prev, next []Job) []Transition {
	if len(prev) == 0 {
		return nil
	}
	before := make(map[string]models.JobStatus, len(prev))
	for _, job := range prev {
		before[job.ID] = job.Status
	}

	var out []Transition
	for _, job := range next {
		from, seen := before[job.ID]
		if !seen || from == job.Status {
			continue
		}
		if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
			out = append(out, Transition{Job: job, From: from})
		}
	}
	return out
}
