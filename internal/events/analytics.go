package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"photorestore/internal/config"
)

const (
	AnalyticsDriverNone  = "none"
	AnalyticsDriverKafka = "kafka"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AnalyticsSink writes lifecycle events to a topic keyed by user, so one user's
// events stay ordered within a partition.
type AnalyticsSink struct {
	writer messageWriter
}

// NewAnalytics returns the configured analytics publisher and a close function.
func NewAnalytics(cfg config.AnalyticsConfig) (Publisher, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", AnalyticsDriverNone:
		return Nop{}, func() error { return nil }, nil
	case AnalyticsDriverKafka:
		if len(cfg.Brokers) == 0 || cfg.Topic == "" {
			return nil, nil, fmt.Errorf("kafka analytics requires brokers and topic")
		}
		w := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		}
		sink := &AnalyticsSink{writer: w}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported analytics driver %q", cfg.Driver)
	}
}

func (s *AnalyticsSink) Publish(ctx context.Context, ev JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
		Time:  ev.At,
	})
}

func (s *AnalyticsSink) Close() error {
	return s.writer.Close()
}
