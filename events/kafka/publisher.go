// Package kafka publishes Tally events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/tally/events"
)

// compile-time interface check
var _ events.Publisher = (*Publisher)(nil)

// Publisher writes one message per event, keyed by the event subject so
// that all events for one user land on the same partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher wraps a configured writer. Close closes it.
func NewPublisher(w *kafka.Writer) *Publisher {
	return &Publisher{writer: w}
}

// NewWriter returns a synchronous writer for topic with leader acks and
// retries.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	}
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, evt *events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("tally/kafka: marshal event: %w", err)
	}
	key := evt.Subject
	if key == "" {
		key = evt.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("tally/kafka: write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
