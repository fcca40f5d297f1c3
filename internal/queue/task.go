// Package queue carries lifecycle side effects between the API and the worker
// over a Redis stream consumed by a consumer group.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type TaskType string

const (
	TaskSweep            TaskType = "sweep"
	TaskCancelPrediction TaskType = "cancel_prediction"
	TaskPersistResult    TaskType = "persist_result"
)

var ErrMalformedTask = errors.New("malformed task")

// Task is one stream entry. Only the fields relevant to Type are set.
type Task struct {
	ID           string
	Type         TaskType
	JobID        string
	UserID       string
	PredictionID string
	ImageID      string
	SourceURL    string
	EnqueuedAt   time.Time
}

func (t Task) values() map[string]any {
	values := map[string]any{
		"id":          t.ID,
		"type":        string(t.Type),
		"enqueued_at": t.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	optional := map[string]string{
		"job_id":        t.JobID,
		"user_id":       t.UserID,
		"prediction_id": t.PredictionID,
		"image_id":      t.ImageID,
		"source_url":    t.SourceURL,
	}
	for k, v := range optional {
		if v != "" {
			values[k] = v
		}
	}
	return values
}

// Validate checks that the fields a task type needs are present.
func (t Task) Validate() error {
	switch t.Type {
	case TaskSweep:
		return nil
	case TaskCancelPrediction:
		if t.PredictionID == "" {
			return fmt.Errorf("%w: cancel_prediction without prediction_id", ErrMalformedTask)
		}
	case TaskPersistResult:
		if t.ImageID == "" || t.SourceURL == "" || t.UserID == "" {
			return fmt.Errorf("%w: persist_result needs image_id, user_id and source_url", ErrMalformedTask)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedTask, t.Type)
	}
	return nil
}

// Decode rebuilds a task from a stream message.
func Decode(msg redis.XMessage) (Task, error) {
	get := func(key string) string {
		if v, ok := msg.Values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
		return ""
	}

	task := Task{
		ID:           get("id"),
		Type:         TaskType(get("type")),
		JobID:        get("job_id"),
		UserID:       get("user_id"),
		PredictionID: get("prediction_id"),
		ImageID:      get("image_id"),
		SourceURL:    get("source_url"),
	}
	if task.ID == "" {
		task.ID = msg.ID
	}
	if raw := get("enqueued_at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Task{}, fmt.Errorf("%w: enqueued_at: %v", ErrMalformedTask, err)
		}
		task.EnqueuedAt = at
	}
	return task, task.Validate()
}
