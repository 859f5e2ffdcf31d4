// Package redis publishes Tally events on Redis pub/sub channels.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/tally/events"
)

// DefaultChannel is the channel every event is published to. Each event is
// also published to DefaultChannel + ":" + event type.
const DefaultChannel = "tally:events"

// compile-time interface check
var _ events.Publisher = (*Publisher)(nil)

// Publisher publishes events with PUBLISH. The caller owns the client.
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
}

// NewPublisher returns a Publisher on channel, or DefaultChannel when empty.
func NewPublisher(rdb redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Channel returns the channel events of typ are published to, in addition
// to the general channel.
func (p *Publisher) Channel(typ string) string {
	return p.channel + ":" + typ
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, evt *events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("tally/redis: marshal event: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, p.channel, payload)
	pipe.Publish(ctx, p.Channel(evt.Type), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tally/redis: publish: %w", err)
	}
	return nil
}

// Close is a no-op; the client is closed by its owner.
func (p *Publisher) Close() error { return nil }
