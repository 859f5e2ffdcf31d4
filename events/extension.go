package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnShutdown            = (*Extension)(nil)
	_ plugin.OnWalletCredited      = (*Extension)(nil)
	_ plugin.OnWalletDebited       = (*Extension)(nil)
	_ plugin.OnWalletLockChanged   = (*Extension)(nil)
	_ plugin.OnInvoiceCreated      = (*Extension)(nil)
	_ plugin.OnInvoicePaid         = (*Extension)(nil)
	_ plugin.OnInvoiceCancelled    = (*Extension)(nil)
	_ plugin.OnPaymentSucceeded    = (*Extension)(nil)
	_ plugin.OnPaymentFailed       = (*Extension)(nil)
	_ plugin.OnDiscountApplied     = (*Extension)(nil)
	_ plugin.OnWithdrawalRequested = (*Extension)(nil)
	_ plugin.OnWithdrawalApproved  = (*Extension)(nil)
	_ plugin.OnWithdrawalProcessed = (*Extension)(nil)
	_ plugin.OnWithdrawalClosed    = (*Extension)(nil)
)

// Extension publishes lifecycle events through a Publisher. The publisher is
// closed when the engine stops.
type Extension struct {
	pub    Publisher
	logger *slog.Logger
	types  map[string]bool // nil = all types
}

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for the extension.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithTypes restricts publishing to the given event types.
func WithTypes(types ...string) Option {
	return func(e *Extension) {
		e.types = make(map[string]bool, len(types))
		for _, t := range types {
			e.types[t] = true
		}
	}
}

// NewExtension returns an Extension publishing through pub.
func NewExtension(pub Publisher, opts ...Option) *Extension {
	e := &Extension{pub: pub, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "events" }

// OnShutdown implements plugin.OnShutdown.
func (e *Extension) OnShutdown(_ context.Context) error {
	return e.pub.Close()
}

// OnWalletCredited implements plugin.OnWalletCredited.
func (e *Extension) OnWalletCredited(ctx context.Context, tx *wallet.Transaction) error {
	return e.publish(ctx, TypeWalletCredited, tx.UserID, tx.Entity, tx)
}

// OnWalletDebited implements plugin.OnWalletDebited.
func (e *Extension) OnWalletDebited(ctx context.Context, tx *wallet.Transaction) error {
	return e.publish(ctx, TypeWalletDebited, tx.UserID, tx.Entity, tx)
}

// OnWalletLockChanged implements plugin.OnWalletLockChanged.
func (e *Extension) OnWalletLockChanged(ctx context.Context, acct *wallet.Account) error {
	return e.publish(ctx, TypeWalletLockChanged, acct.UserID, acct.Entity, acct)
}

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (e *Extension) OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error {
	return e.publish(ctx, TypeInvoiceCreated, inv.UserID, inv.Entity, inv)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.publish(ctx, TypeInvoicePaid, inv.UserID, inv.Entity, inv)
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (e *Extension) OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error {
	return e.publish(ctx, TypeInvoiceCancelled, inv.UserID, inv.Entity, struct {
		Invoice *invoice.Invoice `json:"invoice"`
		Reason  string           `json:"reason,omitempty"`
	}{inv, reason})
}

type paymentData struct {
	Invoice *invoice.Invoice `json:"invoice"`
	Payment *invoice.Payment `json:"payment"`
}

// OnPaymentSucceeded implements plugin.OnPaymentSucceeded.
func (e *Extension) OnPaymentSucceeded(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error {
	return e.publish(ctx, TypePaymentSucceeded, inv.UserID, p.Entity, paymentData{inv, p})
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error {
	return e.publish(ctx, TypePaymentFailed, inv.UserID, p.Entity, paymentData{inv, p})
}

// OnDiscountApplied implements plugin.OnDiscountApplied.
func (e *Extension) OnDiscountApplied(ctx context.Context, res *discount.Result) error {
	ac, _ := tally.AuditFromContext(ctx)
	return e.publish(ctx, TypeDiscountApplied, "", types.Entity{UpdatedAt: ac.Timestamp, UpdatedBy: ac.ActorID}, res)
}

// OnWithdrawalRequested implements plugin.OnWithdrawalRequested.
func (e *Extension) OnWithdrawalRequested(ctx context.Context, r *withdrawal.Request) error {
	return e.publish(ctx, TypeWithdrawalRequested, r.RequesterID, r.Entity, r)
}

// OnWithdrawalApproved implements plugin.OnWithdrawalApproved.
func (e *Extension) OnWithdrawalApproved(ctx context.Context, r *withdrawal.Request) error {
	return e.publish(ctx, TypeWithdrawalApproved, r.RequesterID, r.Entity, r)
}

// OnWithdrawalProcessed implements plugin.OnWithdrawalProcessed.
func (e *Extension) OnWithdrawalProcessed(ctx context.Context, r *withdrawal.Request, tx *wallet.Transaction) error {
	return e.publish(ctx, TypeWithdrawalProcessed, r.RequesterID, r.Entity, struct {
		Withdrawal  *withdrawal.Request `json:"withdrawal"`
		Transaction *wallet.Transaction `json:"transaction"`
	}{r, tx})
}

// OnWithdrawalClosed implements plugin.OnWithdrawalClosed.
func (e *Extension) OnWithdrawalClosed(ctx context.Context, r *withdrawal.Request) error {
	return e.publish(ctx, TypeWithdrawalClosed, r.RequesterID, r.Entity, r)
}

func (e *Extension) publish(ctx context.Context, typ, subject string, ent types.Entity, data any) error {
	if e.types != nil && !e.types[typ] {
		return nil
	}
	at := ent.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	evt, err := New(typ, subject, ent.UpdatedBy, at, data)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", typ, err)
	}
	if err := e.pub.Publish(ctx, evt); err != nil {
		return fmt.Errorf("events: publish %s: %w", typ, err)
	}
	e.logger.Debug("event published", "type", typ, "event_id", evt.ID)
	return nil
}
