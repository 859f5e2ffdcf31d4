// Package withdrawal defines payout requests against a wallet balance.
package withdrawal

import (
	"time"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Status is the lifecycle state of a withdrawal request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusProcessed Status = "processed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// RequesterType identifies who asked for the payout.
type RequesterType string

const (
	RequesterUser   RequesterType = "user"
	RequesterSeller RequesterType = "seller"
)

// DestinationType is the kind of payout destination.
type DestinationType string

const (
	DestinationBankAccount DestinationType = "bank_account"
	DestinationCard        DestinationType = "card"
	DestinationIBAN        DestinationType = "iban"
)

// Destination is where a processed withdrawal is paid out.
type Destination struct {
	Type       DestinationType `json:"type"`
	Value      string          `json:"value"`
	HolderName string          `json:"holder_name,omitempty"`
}

// Request is a withdrawal request.
type Request struct {
	types.Entity
	ID                  id.WithdrawalID `json:"id"`
	RequesterID         string          `json:"requester_id"`
	RequesterType       RequesterType   `json:"requester_type"`
	Amount              types.Money     `json:"amount"`
	Destination         Destination     `json:"destination"`
	Status              Status          `json:"status"`
	WalletTransactionID id.WalletTxID   `json:"wallet_transaction_id,omitempty"`
	PayoutReference     string          `json:"payout_reference,omitempty"`
	AdminNotes          string          `json:"admin_notes,omitempty"`
	ReviewedBy          string          `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time      `json:"reviewed_at,omitempty"`
	ProcessedBy         string          `json:"processed_by,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
}

// Validate checks a new request before it is stored.
func (r *Request) Validate() error {
	var me errs.MultiError
	if r.RequesterID == "" {
		me.Add(errs.Invalid("requester_id", "is required"))
	}
	if r.RequesterType != RequesterUser && r.RequesterType != RequesterSeller {
		me.Add(errs.Invalid("requester_type", "unknown requester type %q", r.RequesterType))
	}
	if r.Amount.Currency == "" {
		me.Add(errs.Invalid("amount", "currency is required"))
	} else if !r.Amount.IsPositive() {
		me.Add(errs.Invalid("amount", "must be positive"))
	}
	switch r.Destination.Type {
	case DestinationBankAccount, DestinationCard, DestinationIBAN:
	default:
		me.Add(errs.Invalid("destination.type", "unknown destination type %q", r.Destination.Type))
	}
	if r.Destination.Value == "" {
		me.Add(errs.Invalid("destination.value", "is required"))
	}
	return me.ErrOrNil()
}

// Approve moves a pending request to approved.
func (r *Request) Approve(at time.Time, actor, notes string) error {
	if r.Status != StatusPending {
		return r.transitionError(StatusApproved)
	}
	r.review(at, actor, notes)
	r.Status = StatusApproved
	return nil
}

// Reject moves a pending or approved request to rejected.
func (r *Request) Reject(at time.Time, actor, notes string) error {
	if !r.Open() {
		return r.transitionError(StatusRejected)
	}
	r.review(at, actor, notes)
	r.Status = StatusRejected
	return nil
}

// Cancel moves a pending or approved request to cancelled.
func (r *Request) Cancel(at time.Time, actor string) error {
	if !r.Open() {
		return r.transitionError(StatusCancelled)
	}
	r.Status = StatusCancelled
	r.TouchAt(at, actor)
	return nil
}

// MarkProcessed records the wallet debit that realized an approved request.
func (r *Request) MarkProcessed(txID id.WalletTxID, payoutRef string, at time.Time, actor string) error {
	if r.Status != StatusApproved {
		return errs.With(errs.ErrWithdrawalNotReady, "withdrawal %s is %s", r.ID, r.Status)
	}
	t := at.UTC()
	r.WalletTransactionID = txID
	r.PayoutReference = payoutRef
	r.ProcessedAt = &t
	r.ProcessedBy = actor
	r.Status = StatusProcessed
	r.TouchAt(at, actor)
	return nil
}

// Open reports whether the request can still be rejected or cancelled.
func (r *Request) Open() bool {
	return r.Status == StatusPending || r.Status == StatusApproved
}

func (r *Request) review(at time.Time, actor, notes string) {
	t := at.UTC()
	r.ReviewedAt = &t
	r.ReviewedBy = actor
	if notes != "" {
		r.AdminNotes = notes
	}
	r.TouchAt(at, actor)
}

func (r *Request) transitionError(to Status) error {
	return errs.With(errs.ErrInvalidTransition, "withdrawal %s: %s -> %s", r.ID, r.Status, to)
}
