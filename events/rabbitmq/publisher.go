// Package rabbitmq publishes Tally events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/tally/events"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "tally.events"

// compile-time interface check
var _ events.Publisher = (*Publisher)(nil)

// Publisher publishes events with the event type as the routing key.
type Publisher struct {
	conn     *amqp.Connection // nil when the channel is caller-owned
	channel  *amqp.Channel
	exchange string
}

// NewPublisher wraps an open channel. The caller owns the channel.
func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{channel: ch, exchange: exchange}
}

// Dial connects to url, opens a channel and declares a durable topic
// exchange. Close releases both.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("tally/rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tally/rabbitmq: open channel: %w", err)
	}

	p := NewPublisher(ch, exchange)
	p.conn = conn
	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,
	)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("tally/rabbitmq: declare exchange %s: %w", p.exchange, err)
	}
	return p, nil
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, evt *events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("tally/rabbitmq: marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		evt.Type,   // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    evt.ID,
			Timestamp:    evt.OccurredAt,
			Type:         evt.Type,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("tally/rabbitmq: publish: %w", err)
	}
	return nil
}

// Close closes the channel, and the connection when Dial opened it.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = p.conn.Close()
		return fmt.Errorf("tally/rabbitmq: close channel: %w", err)
	}
	return p.conn.Close()
}
