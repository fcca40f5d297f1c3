package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Handler interface {
	Handle(ctx context.Context, task Task) error
}

type ConsumerOptions struct {
	Stream        string
	Group         string
	Name          string
	ClaimInterval time.Duration
	BatchSize     int64
	Block         time.Duration
	// MaxDeliveries is how many times a message may be delivered before it is
	// dead-lettered instead of reclaimed.
	MaxDeliveries int64
}

// Consumer reads tasks for one member of a consumer group. Messages whose
// handler fails stay pending and are reclaimed after ClaimInterval, until
// they have been delivered MaxDeliveries times; then they are copied to the
// dead-letter stream and acknowledged.
type Consumer struct {
	client  *redis.Client
	opts    ConsumerOptions
	logger  zerolog.Logger
	handler Handler
}

func NewConsumer(client *redis.Client, opts ConsumerOptions, logger zerolog.Logger, handler Handler) *Consumer {
	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	return &Consumer{
		client:  client,
		opts:    opts,
		logger:  logger.With().Str("stream", opts.Stream).Str("consumer", opts.Name).Logger(),
		handler: handler,
	}
}

// EnsureGroup creates the stream and group if they do not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.opts.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.claimStalled(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("claim stalled failed")
			}
		default:
		}

		if err := c.read(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("stream read error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Name,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	task, err := Decode(msg)
	if err != nil {
		// Malformed entries would be reclaimed forever; drop them.
		c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("discarding malformed task")
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler.Handle(ctx, task); err != nil {
		c.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("task_type", string(task.Type)).
			Msg("handle task failed")
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", id).Msg("ack failed")
	}
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.opts.Stream,
		Group:  c.opts.Group,
		Idle:   c.opts.ClaimInterval,
		Start:  "-",
		End:    "+",
		Count:  c.opts.BatchSize,
	}).Result()
	if err != nil {
		return err
	}
	retry, exhausted := splitExhausted(pending, c.opts.MaxDeliveries)
	for _, entry := range exhausted {
		c.deadLetter(ctx, entry)
	}
	if len(retry) == 0 {
		return nil
	}

	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Consumer: c.opts.Name,
		MinIdle:  c.opts.ClaimInterval,
		Messages: retry,
	}).Result()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		c.process(ctx, msg)
	}
	return nil
}

// DeadLetterStream names the stream exhausted messages are copied to.
func DeadLetterStream(stream string) string {
	return stream + ":dead"
}

// splitExhausted separates pending entries that may be retried from those
// already delivered limit times.
func splitExhausted(pending []redis.XPendingExt, limit int64) ([]string, []redis.XPendingExt) {
	retry := make([]string, 0, len(pending))
	var exhausted []redis.XPendingExt
	for _, entry := range pending {
		if entry.RetryCount >= limit {
			exhausted = append(exhausted, entry)
			continue
		}
		retry = append(retry, entry.ID)
	}
	return retry, exhausted
}

// deadLetter copies the message to the dead-letter stream and acknowledges
// it. A message that cannot be copied stays pending for the next pass.
func (c *Consumer) deadLetter(ctx context.Context, entry redis.XPendingExt) {
	log := c.logger.With().
		Str("message_id", entry.ID).
		Int64("deliveries", entry.RetryCount).
		Logger()

	msgs, err := c.client.XRangeN(ctx, c.opts.Stream, entry.ID, entry.ID, 1).Result()
	if err != nil {
		log.Error().Err(err).Msg("read exhausted task failed")
		return
	}
	if len(msgs) > 0 {
		values := make(map[string]any, len(msgs[0].Values)+2)
		for k, v := range msgs[0].Values {
			values[k] = v
		}
		values["original_id"] = entry.ID
		values["deliveries"] = entry.RetryCount
		if err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: DeadLetterStream(c.opts.Stream),
			Values: values,
		}).Err(); err != nil {
			log.Error().Err(err).Msg("dead-letter task failed")
			return
		}
	}
	c.ack(ctx, entry.ID)
	log.Warn().Str("dead_letter_stream", DeadLetterStream(c.opts.Stream)).Msg("task exceeded max deliveries")
}
