package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Status is derived from the paid and outstanding amounts. Callers never set
// it directly; Refresh recomputes it after every payment change.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
)

// Kind distinguishes purchases from wallet top-ups. A paid top-up credits the
// owner's wallet with its grand total.
type Kind string

const (
	KindPurchase    Kind = "purchase"
	KindWalletTopUp Kind = "wallet_topup"
)

// Invoice is a bill owned by a user, settled by one or more payments.
type Invoice struct {
	types.Entity
	ID             id.InvoiceID      `json:"id"`
	Number         string            `json:"number"`
	UserID         string            `json:"user_id"`
	Currency       string            `json:"currency"`
	Kind           Kind              `json:"kind"`
	Status         Status            `json:"status"`
	LineItems      []LineItem        `json:"line_items"`
	Subtotal       types.Money       `json:"subtotal"`
	TaxAmount      types.Money       `json:"tax_amount"`
	Adjustment     types.Money       `json:"adjustment"`
	DiscountCode   string            `json:"discount_code,omitempty"`
	DiscountAmount types.Money       `json:"discount_amount"`
	GrandTotal     types.Money       `json:"grand_total"`
	PaidAmount     types.Money       `json:"paid_amount"`
	Payments       []*Payment        `json:"payments,omitempty"`
	DueAt          *time.Time        `json:"due_at,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	Note           string            `json:"note,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// LineItem is one priced row of an invoice.
type LineItem struct {
	ID          id.LineItemID     `json:"id"`
	Description string            `json:"description"`
	UnitPrice   types.Money       `json:"unit_price"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Discount    types.Money       `json:"discount"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Total returns round(UnitPrice × Quantity) − Discount, floored at zero.
func (li LineItem) Total() types.Money {
	gross := li.UnitPrice.MultiplyDecimal(li.Quantity)
	if li.Discount.Currency == "" {
		return gross
	}
	net := gross.Subtract(li.Discount)
	if net.IsNegative() {
		return types.Zero(gross.Currency)
	}
	return net
}

// Validate checks the invoice before it is first persisted.
func (inv *Invoice) Validate() error {
	var me errs.MultiError
	if inv.UserID == "" {
		me.Add(errs.Invalid("user_id", "is required"))
	}
	if inv.Currency == "" {
		me.Add(errs.Invalid("currency", "is required"))
	}
	if len(inv.LineItems) == 0 {
		me.Add(errs.Invalid("line_items", "at least one line item is required"))
	}
	if inv.Kind != KindPurchase && inv.Kind != KindWalletTopUp {
		me.Add(errs.Invalid("kind", "unknown invoice kind %q", inv.Kind))
	}
	for i, li := range inv.LineItems {
		if li.UnitPrice.Currency != inv.Currency {
			me.Add(errs.Invalid("line_items", "item %d currency %q differs from invoice currency %q", i, li.UnitPrice.Currency, inv.Currency))
			continue
		}
		if li.UnitPrice.IsNegative() {
			me.Add(errs.Invalid("line_items", "item %d has a negative unit price", i))
		}
		if !li.Quantity.IsPositive() {
			me.Add(errs.Invalid("line_items", "item %d quantity must be positive", i))
		}
		if li.Discount.Currency != "" && li.Discount.Currency != inv.Currency {
			me.Add(errs.Invalid("line_items", "item %d discount currency differs from invoice", i))
		} else if li.Discount.IsNegative() {
			me.Add(errs.Invalid("line_items", "item %d has a negative discount", i))
		}
	}
	if inv.TaxAmount.Currency != inv.Currency || inv.TaxAmount.IsNegative() {
		me.Add(errs.Invalid("tax_amount", "must be a non-negative amount in %q", inv.Currency))
	}
	if inv.Adjustment.Currency != inv.Currency {
		me.Add(errs.Invalid("adjustment", "must be in %q", inv.Currency))
	}
	return me.ErrOrNil()
}

// ComputeTotals recomputes Subtotal and GrandTotal from the line items, tax
// and adjustment.
func (inv *Invoice) ComputeTotals() error {
	subtotal := types.Zero(inv.Currency)
	for _, li := range inv.LineItems {
		subtotal = subtotal.Add(li.Total())
	}
	inv.Subtotal = subtotal
	inv.GrandTotal = subtotal.Add(inv.TaxAmount).Add(inv.Adjustment)
	if inv.GrandTotal.IsNegative() {
		return errs.Invalid("adjustment", "grand total would be negative (%s)", inv.GrandTotal)
	}
	return nil
}

// Paid returns the sum of succeeded payments.
func (inv *Invoice) Paid() types.Money {
	paid := types.Zero(inv.Currency)
	for _, p := range inv.Payments {
		if p.Status == PaymentSucceeded {
			paid = paid.Add(p.Amount)
		}
	}
	return paid
}

// Outstanding returns GrandTotal − Paid, floored at zero.
func (inv *Invoice) Outstanding() types.Money {
	out := inv.GrandTotal.Subtract(inv.Paid())
	if out.IsNegative() {
		return types.Zero(inv.Currency)
	}
	return out
}

// HasSucceededPayment reports whether any payment has succeeded.
func (inv *Invoice) HasSucceededPayment() bool {
	for _, p := range inv.Payments {
		if p.Status == PaymentSucceeded {
			return true
		}
	}
	return false
}

// PendingGatewayPayment returns the open gateway payment, if any.
func (inv *Invoice) PendingGatewayPayment() *Payment {
	for _, p := range inv.Payments {
		if p.Status == PaymentPending && p.Method == MethodOnlineGateway {
			return p
		}
	}
	return nil
}

// FindPayment returns the payment carrying reference.
func (inv *Invoice) FindPayment(reference string) *Payment {
	for _, p := range inv.Payments {
		if p.Reference == reference {
			return p
		}
	}
	return nil
}

// CheckPayable verifies the invoice can accept a new settlement attempt.
func (inv *Invoice) CheckPayable() error {
	if inv.Status == StatusCancelled {
		return errs.With(errs.ErrInvoiceCancelled, "invoice %s", inv.Number)
	}
	if !inv.Outstanding().IsPositive() {
		return errs.With(errs.ErrAlreadySettled, "invoice %s", inv.Number)
	}
	if p := inv.PendingGatewayPayment(); p != nil {
		return errs.With(errs.ErrPaymentPending, "invoice %s has pending payment %s", inv.Number, p.Reference)
	}
	return nil
}

// AddPayment attaches p to the invoice. A succeeded payment may not exceed
// the outstanding amount.
func (inv *Invoice) AddPayment(p *Payment) error {
	if p.Amount.Currency != inv.Currency {
		return errs.With(errs.ErrCurrencyMismatch, "invoice is %s, payment is %s", inv.Currency, p.Amount.Currency)
	}
	if !p.Amount.IsPositive() {
		return errs.ErrInvalidAmount
	}
	if p.Amount.GreaterThan(inv.Outstanding()) {
		return errs.With(errs.ErrExceedsOutstanding, "payment %s, outstanding %s", p.Amount, inv.Outstanding())
	}
	p.InvoiceID = inv.ID
	inv.Payments = append(inv.Payments, p)
	return nil
}

// Refresh recomputes PaidAmount and Status from the attached payments. It
// reports whether the invoice became paid in this call.
func (inv *Invoice) Refresh(at time.Time, actor string) (becamePaid bool) {
	inv.PaidAmount = inv.Paid()
	inv.TouchAt(at, actor)
	if inv.Status == StatusCancelled {
		return false
	}

	prev := inv.Status
	switch {
	case inv.Outstanding().IsZero():
		inv.Status = StatusPaid
		if inv.PaidAt == nil {
			t := at.UTC()
			inv.PaidAt = &t
		}
	case inv.PaidAmount.IsPositive():
		inv.Status = StatusPartiallyPaid
	default:
		inv.Status = StatusPending
	}
	return prev != StatusPaid && inv.Status == StatusPaid
}

// Cancel moves a pending or partially paid invoice to cancelled. It is
// refused once any payment succeeded or while a gateway payment is open.
func (inv *Invoice) Cancel(at time.Time, actor, reason string) error {
	if inv.Status != StatusPending && inv.Status != StatusPartiallyPaid {
		return errs.With(errs.ErrInvalidTransition, "invoice %s is %s", inv.Number, inv.Status)
	}
	if inv.HasSucceededPayment() {
		return errs.With(errs.ErrInvalidTransition, "invoice %s has succeeded payments", inv.Number)
	}
	if p := inv.PendingGatewayPayment(); p != nil {
		return errs.With(errs.ErrPaymentPending, "invoice %s has pending payment %s", inv.Number, p.Reference)
	}
	t := at.UTC()
	inv.Status = StatusCancelled
	inv.CancelledAt = &t
	inv.CancelReason = reason
	inv.TouchAt(at, actor)
	return nil
}
