package tally

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// InvoiceRequest describes a new invoice. Money values with an empty
// currency take the invoice currency.
type InvoiceRequest struct {
	UserID string
	// Currency defaults to the settings' default currency.
	Currency   string
	Kind       invoice.Kind
	Items      []invoice.LineItem
	Tax        types.Money
	Adjustment types.Money
	// DiscountCode is redeemed against the pre-discount grand total.
	DiscountCode string
	AudienceKey  string
	DueAt        *time.Time
	Note         string
	Metadata     map[string]string
}

// ──────────────────────────────────────────────────
// Invoice management
// ──────────────────────────────────────────────────

// CreateInvoice validates and stores a new invoice, redeeming its discount
// code in the same transaction.
func (t *Tally) CreateInvoice(ctx context.Context, req InvoiceRequest) (*invoice.Invoice, error) {
	if req.UserID == "" {
		return nil, errs.Invalid("user_id", "is required")
	}
	if len(req.Items) == 0 {
		return nil, errs.Invalid("line_items", "at least one line item is required")
	}

	var (
		inv   *invoice.Invoice
		res   *discount.Result
		isNew bool
	)
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "create_invoice", func(ctx context.Context, tx store.Tx) error {
		res = nil
		var err error
		inv, err = t.buildInvoice(ctx, tx, ac, req)
		if err != nil {
			return err
		}

		if req.DiscountCode != "" {
			res, err = t.redeem(ctx, tx, ac, ac.Timestamp, req.DiscountCode, inv.GrandTotal, req.AudienceKey)
			if err != nil {
				return err
			}
			inv.DiscountCode = res.Code
			inv.DiscountAmount = res.Discount
			inv.Adjustment = inv.Adjustment.Subtract(res.Discount)
			if err := inv.ComputeTotals(); err != nil {
				return err
			}
		}

		if inv.Kind == invoice.KindWalletTopUp {
			if err := checkTopUpWallet(ctx, tx, inv); err != nil {
				return err
			}
		}

		isNew = inv.Refresh(ac.Timestamp, ac.ActorID)
		return tx.CreateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Debug("invoice created",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"user_id", inv.UserID,
		"grand_total", inv.GrandTotal,
	)

	t.plugins.EmitInvoiceCreated(ctx, inv)
	if res != nil {
		t.plugins.EmitDiscountApplied(ctx, res)
	}
	if isNew {
		// Fully discounted invoices are paid on creation.
		t.plugins.EmitInvoicePaid(ctx, inv)
	}
	return inv, nil
}

func (t *Tally) buildInvoice(ctx context.Context, tx store.Tx, ac AuditContext, req InvoiceRequest) (*invoice.Invoice, error) {
	currency := types.NormalizeCurrency(req.Currency)
	if currency == "" {
		s, err := t.loadSettings(ctx, tx)
		if err != nil {
			return nil, err
		}
		currency = s.DefaultCurrency
	}

	kind := req.Kind
	if kind == "" {
		kind = invoice.KindPurchase
	}

	items := make([]invoice.LineItem, len(req.Items))
	for i, li := range req.Items {
		if li.ID.IsNil() {
			li.ID = id.NewLineItemID()
		}
		li.UnitPrice = inCurrency(li.UnitPrice, currency)
		if li.Discount.Amount != 0 {
			li.Discount = inCurrency(li.Discount, currency)
		}
		items[i] = li
	}

	inv := &invoice.Invoice{
		Entity:     types.NewEntityAt(ac.Timestamp, ac.ActorID),
		ID:         id.NewInvoiceID(),
		Number:     types.NewReferenceAt(types.RefInvoice, ac.Timestamp),
		UserID:     req.UserID,
		Currency:   currency,
		Kind:       kind,
		Status:     invoice.StatusPending,
		LineItems:  items,
		TaxAmount:  inCurrency(req.Tax, currency),
		Adjustment: inCurrency(req.Adjustment, currency),
		DueAt:      req.DueAt,
		Note:       req.Note,
		Metadata:   req.Metadata,
		PaidAmount: types.Zero(currency),
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if err := inv.ComputeTotals(); err != nil {
		return nil, err
	}
	if kind == invoice.KindWalletTopUp && !inv.GrandTotal.IsPositive() {
		return nil, errs.Invalid("grand_total", "a wallet top-up must be positive")
	}
	return inv, nil
}

// checkTopUpWallet refuses a top-up whose credit could never be applied.
func checkTopUpWallet(ctx context.Context, tx store.Tx, inv *invoice.Invoice) error {
	acct, err := tx.GetWallet(ctx, inv.UserID)
	if errors.Is(err, errs.ErrWalletNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if acct.Currency != inv.Currency {
		return errs.With(errs.ErrCurrencyMismatch, "wallet is %s, invoice is %s", acct.Currency, inv.Currency)
	}
	return nil
}

// GetInvoice returns an invoice with its payments.
func (t *Tally) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, invoiceID)
		return err
	})
	return inv, err
}

// GetInvoiceByNumber returns an invoice by its human-readable number.
func (t *Tally) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = tx.GetInvoiceByNumber(ctx, number)
		return err
	})
	return inv, err
}

// ListInvoices lists invoices, newest first.
func (t *Tally) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var invs []*invoice.Invoice
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		invs, err = tx.ListInvoices(ctx, opts)
		return err
	})
	return invs, err
}

// CancelInvoice cancels an invoice that has not received any payment.
func (t *Tally) CancelInvoice(ctx context.Context, invoiceID id.InvoiceID, reason string) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "cancel_invoice", func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := inv.Cancel(ac.Timestamp, ac.ActorID, reason); err != nil {
			return err
		}
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("invoice cancelled",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"reason", reason,
	)
	t.plugins.EmitInvoiceCancelled(ctx, inv, reason)
	return inv, nil
}

// inCurrency normalizes the currency of m, defaulting it to currency.
func inCurrency(m types.Money, currency string) types.Money {
	m.Currency = types.NormalizeCurrency(m.Currency)
	if m.Currency == "" {
		m.Currency = currency
	}
	return m
}
