// Package events publishes Tally lifecycle events to a message broker.
//
// The Extension is a Tally plugin that turns every committed lifecycle event
// into an Event and hands it to a Publisher. Broker implementations live in
// the rabbitmq, kafka and redis subpackages.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types. They double as routing keys.
const (
	TypeWalletCredited      = "wallet.credited"
	TypeWalletDebited       = "wallet.debited"
	TypeWalletLockChanged   = "wallet.lock_changed"
	TypeInvoiceCreated      = "invoice.created"
	TypeInvoicePaid         = "invoice.paid"
	TypeInvoiceCancelled    = "invoice.cancelled"
	TypePaymentSucceeded    = "payment.succeeded"
	TypePaymentFailed       = "payment.failed"
	TypeDiscountApplied     = "discount.applied"
	TypeWithdrawalRequested = "withdrawal.requested"
	TypeWithdrawalApproved  = "withdrawal.approved"
	TypeWithdrawalProcessed = "withdrawal.processed"
	TypeWithdrawalClosed    = "withdrawal.closed"
)

// Event is the broker envelope for one lifecycle event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Subject    string          `json:"subject,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// New builds an event with a fresh ULID. Subject is the user the event
// concerns and is used as the partition key where the broker has one.
func New(typ, subject, actorID string, at time.Time, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:         ulid.Make().String(),
		Type:       typ,
		Subject:    subject,
		ActorID:    actorID,
		OccurredAt: at.UTC(),
		Data:       raw,
	}, nil
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
	Close() error
}

// PublisherFunc is an adapter to use a plain function as a Publisher.
type PublisherFunc func(ctx context.Context, evt *Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// Close implements Publisher.
func (f PublisherFunc) Close() error { return nil }
