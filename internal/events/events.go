// Package events fans job lifecycle transitions out to live subscribers and to
// the analytics pipeline.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/models"
)

type Type string

const (
	TypeJobStarted   Type = "job.started"
	TypeJobCompleted Type = "job.completed"
	TypeJobFailed    Type = "job.failed"
	TypeJobCancelled Type = "job.cancelled"
	TypeJobTimedOut  Type = "job.timed_out"
)

type JobEvent struct {
	Type         Type             `json:"type"`
	JobID        string           `json:"job_id"`
	UserID       string           `json:"user_id"`
	Status       models.JobStatus `json:"status"`
	PredictionID string           `json:"prediction_id,omitempty"`
	ResultURL    string           `json:"result_url,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ElapsedMS    int64            `json:"elapsed_ms,omitempty"`
	At           time.Time        `json:"at"`
}

// FromJob builds an event describing the job's current state.
func FromJob(t Type, job models.Job, at time.Time) JobEvent {
	ev := JobEvent{
		Type:         t,
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		PredictionID: job.PredictionID,
		At:           at,
	}
	if job.ResultURL != nil {
		ev.ResultURL = *job.ResultURL
	}
	if job.ErrorMessage != nil {
		ev.ErrorMessage = *job.ErrorMessage
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		ev.ElapsedMS = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }

// Fanout delivers to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev JobEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps a publisher so failures are logged and never returned. Event
// delivery is a secondary effect of a committed transition.
type Logged struct {
	Next Publisher
	Log  zerolog.Logger
}

func (l Logged) Publish(ctx context.Context, ev JobEvent) error {
	if err := l.Next.Publish(ctx, ev); err != nil {
		l.Log.Warn().Err(err).
			Str("job_id", ev.JobID).
			Str("event", string(ev.Type)).
			Msg("publish job event failed")
	}
	return nil
}
