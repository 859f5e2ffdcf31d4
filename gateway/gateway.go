// Package gateway defines the banking-gateway collaborator used for online
// invoice payments. Gateway calls are never made inside a store transaction.
package gateway

import (
	"context"
	"time"

	"github.com/xraph/tally/types"
)

// Client is a payment gateway.
type Client interface {
	// Name identifies the gateway on stored payments.
	Name() string

	// CreateSession opens a hosted payment session for one payment.
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)

	// Verify asks the gateway for the current state of a session.
	Verify(ctx context.Context, gatewayReference string) (*Receipt, error)
}

// SessionRequest describes the payment a session is opened for.
type SessionRequest struct {
	PaymentReference string      `json:"payment_reference"`
	InvoiceNumber    string      `json:"invoice_number"`
	UserID           string      `json:"user_id"`
	Amount           types.Money `json:"amount"`
	ExpiresAt        time.Time   `json:"expires_at"`
}

// Session is an open hosted payment page.
type Session struct {
	GatewayReference string    `json:"gateway_reference"`
	PaymentURL       string    `json:"payment_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ReceiptStatus is the gateway's view of a session.
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptSucceeded ReceiptStatus = "succeeded"
	ReceiptFailed    ReceiptStatus = "failed"
)

// Receipt is the result of verifying a session.
type Receipt struct {
	GatewayReference string        `json:"gateway_reference"`
	Status           ReceiptStatus `json:"status"`
	TrackingCode     string        `json:"tracking_code,omitempty"`
	Amount           types.Money   `json:"amount"`
	Message          string        `json:"message,omitempty"`
}
