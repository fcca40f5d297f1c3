package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toMessage(id string, values map[string]any) redis.XMessage {
	return redis.XMessage{ID: id, Values: values}
}

func TestDecodeRoundTripsValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	task := Task{
		ID:         "t-1",
		Type:       TaskPersistResult,
		JobID:      "job-1",
		UserID:     "user-1",
		ImageID:    "img-1",
		SourceURL:  "https://cdn.example.com/out.png",
		EnqueuedAt: at,
	}

	decoded, err := Decode(toMessage("1-0", task.values()))
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestDecodeFallsBackToMessageID(t *testing.T) {
	decoded, err := Decode(toMessage("1700-0", map[string]any{"type": "sweep"}))
	require.NoError(t, err)
	assert.Equal(t, "1700-0", decoded.ID)
	assert.Equal(t, TaskSweep, decoded.Type)
}

func TestValidateRejectsIncompleteTasks(t *testing.T) {
	cases := []Task{
		{Type: TaskCancelPrediction},
		{Type: TaskPersistResult, ImageID: "img"},
		{Type: "thumbnail"},
	}
	for _, task := range cases {
		assert.ErrorIs(t, task.Validate(), ErrMalformedTask, string(task.Type))
	}
	assert.NoError(t, Task{Type: TaskCancelPrediction, PredictionID: "p"}.Validate())
}

func TestNilProducerIsNoop(t *testing.T) {
	var p *Producer
	assert.NoError(t, p.Enqueue(context.Background(), Task{Type: TaskSweep}))
}

func TestSplitExhaustedStopsRetryingAtLimit(t *testing.T) {
	pending := []redis.XPendingExt{
		{ID: "1-0", RetryCount: 1},
		{ID: "2-0", RetryCount: 5},
		{ID: "3-0", RetryCount: 4},
		{ID: "4-0", RetryCount: 9},
	}

	retry, exhausted := splitExhausted(pending, 5)
	assert.Equal(t, []string{"1-0", "3-0"}, retry)
	require.Len(t, exhausted, 2)
	assert.Equal(t, "2-0", exhausted[0].ID)
	assert.Equal(t, "4-0", exhausted[1].ID)
}

func TestConsumerDefaultsMaxDeliveries(t *testing.T) {
	c := NewConsumer(nil, ConsumerOptions{Stream: "tasks"}, zerolog.Nop(), nil)
	assert.Equal(t, int64(5), c.opts.MaxDeliveries)
	assert.Equal(t, "tasks:dead", DeadLetterStream("tasks"))
}
