package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"photorestore/internal/ids"
)

type Producer struct {
	client *redis.Client
	stream string
	now    func() time.Time
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{
		client: client,
		stream: stream,
		now:    time.Now,
	}
}

// Enqueue appends a task to the stream, assigning an id when missing.
func (p *Producer) Enqueue(ctx context.Context, task Task) error {
	if p == nil || p.client == nil {
		return nil
	}
	if task.ID == "" {
		task.ID = ids.Sortable()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = p.now().UTC()
	}
	if err := task.Validate(); err != nil {
		return err
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type, err)
	}
	return nil
}
