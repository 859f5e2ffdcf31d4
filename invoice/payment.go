package invoice

import (
	"time"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Method is how a payment was made.
type Method string

const (
	MethodOnlineGateway Method = "online_gateway"
	MethodBankTransfer  Method = "bank_transfer"
	MethodCash          Method = "cash"
	MethodWallet        Method = "wallet"
)

// IsManual reports whether m is recorded by an operator rather than settled
// by the engine.
func (m Method) IsManual() bool {
	return m == MethodBankTransfer || m == MethodCash
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one settlement attempt against an invoice.
type Payment struct {
	types.Entity
	ID                  id.PaymentID  `json:"id"`
	InvoiceID           id.InvoiceID  `json:"invoice_id"`
	Amount              types.Money   `json:"amount"`
	Method              Method        `json:"method"`
	Status              PaymentStatus `json:"status"`
	Reference           string        `json:"reference"`
	Gateway             string        `json:"gateway,omitempty"`
	GatewayReference    string        `json:"gateway_reference,omitempty"`
	PaymentURL          string        `json:"payment_url,omitempty"`
	ExpiresAt           *time.Time    `json:"expires_at,omitempty"`
	ExternalID          string        `json:"external_id,omitempty"`
	WalletTransactionID id.WalletTxID `json:"wallet_transaction_id,omitempty"`
	Description         string        `json:"description,omitempty"`
	FailureReason       string        `json:"failure_reason,omitempty"`
	SourceIP            string        `json:"source_ip,omitempty"`
	ResolvedAt          *time.Time    `json:"resolved_at,omitempty"`
}

// Expired reports whether a pending gateway session has passed its expiry.
func (p *Payment) Expired(now time.Time) bool {
	return p.Status == PaymentPending && p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Succeed resolves a pending payment as succeeded.
func (p *Payment) Succeed(at time.Time, actor, externalID string) error {
	if p.Status != PaymentPending {
		return errs.With(errs.ErrInvalidTransition, "payment %s is %s", p.Reference, p.Status)
	}
	t := at.UTC()
	p.Status = PaymentSucceeded
	p.ResolvedAt = &t
	if externalID != "" {
		p.ExternalID = externalID
	}
	p.TouchAt(at, actor)
	return nil
}

// Fail resolves a pending payment as failed. The record is kept.
func (p *Payment) Fail(at time.Time, actor, reason string) error {
	if p.Status != PaymentPending {
		return errs.With(errs.ErrInvalidTransition, "payment %s is %s", p.Reference, p.Status)
	}
	t := at.UTC()
	p.Status = PaymentFailed
	p.ResolvedAt = &t
	p.FailureReason = reason
	p.TouchAt(at, actor)
	return nil
}
