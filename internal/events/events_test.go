package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/config"
	"photorestore/internal/models"
)

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type failing struct{}

func (failing) Publish(context.Context, JobEvent) error { return errors.New("boom") }

func TestFromJobElapsed(t *testing.T) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(42 * time.Second)
	url := "https://x/y.png"

	ev := FromJob(TypeJobCompleted, models.Job{
		ID:          "job-1",
		UserID:      "user-1",
		Status:      models.JobStatusCompleted,
		ResultURL:   &url,
		StartedAt:   &started,
		CompletedAt: &completed,
	}, completed)

	assert.Equal(t, int64(42000), ev.ElapsedMS)
	assert.Equal(t, url, ev.ResultURL)
	assert.Equal(t, models.JobStatusCompleted, ev.Status)
}

func TestAnalyticsSinkKeysByUser(t *testing.T) {
	w := &recordingWriter{}
	sink := &AnalyticsSink{writer: w}

	require.NoError(t, sink.Publish(context.Background(), JobEvent{Type: TypeJobFailed, JobID: "j", UserID: "u-9"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("u-9"), w.msgs[0].Key)

	var decoded JobEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, TypeJobFailed, decoded.Type)
}

func TestNewAnalyticsDrivers(t *testing.T) {
	p, closeFn, err := NewAnalytics(config.AnalyticsConfig{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, closeFn())

	_, _, err = NewAnalytics(config.AnalyticsConfig{Driver: "kafka"})
	assert.Error(t, err)

	_, _, err = NewAnalytics(config.AnalyticsConfig{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestLoggedSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	p := Logged{Next: Fanout{Nop{}, failing{}}, Log: zerolog.New(&buf)}

	assert.NoError(t, p.Publish(context.Background(), JobEvent{JobID: "job-1"}))
	assert.Contains(t, buf.String(), "publish job event failed")
}
