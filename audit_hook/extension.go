// Package audithook bridges Tally lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a Recorder (for example the MongoDB
// recorder in audit_hook/mongo) or a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"errors"
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

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action" bson:"action"`
	Resource   string         `json:"resource" bson:"resource"`
	Category   string         `json:"category" bson:"category"`
	ResourceID string         `json:"resource_id,omitempty" bson:"resource_id,omitempty"`
	ActorID    string         `json:"actor_id" bson:"actor_id"`
	SourceIP   string         `json:"source_ip,omitempty" bson:"source_ip,omitempty"`
	Timestamp  time.Time      `json:"timestamp" bson:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Outcome    string         `json:"outcome" bson:"outcome"`
	Severity   string         `json:"severity" bson:"severity"`
	Reason     string         `json:"reason,omitempty" bson:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Tally lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// actor identifies who made a change and when.
type actor struct {
	id       string
	sourceIP string
	at       time.Time
}

// entityActor takes the actor recorded on the entity, falling back to the
// audit context for the source address.
func entityActor(ctx context.Context, ent types.Entity, sourceIP string) actor {
	a := actor{id: ent.UpdatedBy, sourceIP: sourceIP, at: ent.UpdatedAt}
	if ac, ok := tally.AuditFromContext(ctx); ok && a.sourceIP == "" {
		a.sourceIP = ac.SourceIP
	}
	return a
}

func contextActor(ctx context.Context) actor {
	ac, _ := tally.AuditFromContext(ctx)
	a := actor{id: ac.ActorID, sourceIP: ac.SourceIP, at: ac.Timestamp}
	if a.id == "" {
		a.id = tally.SystemActor
	}
	if a.at.IsZero() {
		a.at = time.Now()
	}
	return a
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletCredited implements plugin.OnWalletCredited.
func (e *Extension) OnWalletCredited(ctx context.Context, tx *wallet.Transaction) error {
	return e.record(ctx, ActionWalletCredited, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryWallet,
		entityActor(ctx, tx.Entity, tx.SourceIP), nil,
		"user_id", tx.UserID,
		"amount", tx.Amount.Amount,
		"currency", tx.Amount.Currency,
		"reference", tx.Reference,
	)
}

// OnWalletDebited implements plugin.OnWalletDebited.
func (e *Extension) OnWalletDebited(ctx context.Context, tx *wallet.Transaction) error {
	return e.record(ctx, ActionWalletDebited, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryWallet,
		entityActor(ctx, tx.Entity, tx.SourceIP), nil,
		"user_id", tx.UserID,
		"amount", tx.Amount.Amount,
		"currency", tx.Amount.Currency,
		"reference", tx.Reference,
	)
}

// OnWalletLockChanged implements plugin.OnWalletLockChanged.
func (e *Extension) OnWalletLockChanged(ctx context.Context, acct *wallet.Account) error {
	action, severity := ActionWalletUnlocked, SeverityInfo
	if acct.Locked {
		action, severity = ActionWalletLocked, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceWallet, acct.ID.String(), CategoryCompliance,
		entityActor(ctx, acct.Entity, ""), nil,
		"user_id", acct.UserID,
		"lock_reason", acct.LockReason,
	)
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (e *Extension) OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceCreated, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling,
		entityActor(ctx, inv.Entity, ""), nil,
		"number", inv.Number,
		"user_id", inv.UserID,
		"kind", string(inv.Kind),
		"grand_total", inv.GrandTotal.Amount,
		"currency", inv.Currency,
		"discount_code", inv.DiscountCode,
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling,
		entityActor(ctx, inv.Entity, ""), nil,
		"number", inv.Number,
		"user_id", inv.UserID,
		"paid_amount", inv.PaidAmount.Amount,
		"currency", inv.Currency,
	)
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (e *Extension) OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error {
	return e.record(ctx, ActionInvoiceCancelled, SeverityWarning, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling,
		entityActor(ctx, inv.Entity, ""), nil,
		"number", inv.Number,
		"user_id", inv.UserID,
		"cancel_reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentSucceeded implements plugin.OnPaymentSucceeded.
func (e *Extension) OnPaymentSucceeded(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error {
	return e.record(ctx, ActionPaymentSucceeded, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID.String(), CategoryPayment,
		entityActor(ctx, p.Entity, p.SourceIP), nil,
		"invoice_id", inv.ID.String(),
		"method", string(p.Method),
		"amount", p.Amount.Amount,
		"currency", p.Amount.Currency,
		"reference", p.Reference,
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error {
	return e.record(ctx, ActionPaymentFailed, SeverityError, OutcomeFailure,
		ResourcePayment, p.ID.String(), CategoryPayment,
		entityActor(ctx, p.Entity, p.SourceIP), errors.New(p.FailureReason),
		"invoice_id", inv.ID.String(),
		"method", string(p.Method),
		"gateway", p.Gateway,
		"gateway_reference", p.GatewayReference,
		"amount", p.Amount.Amount,
	)
}

// ──────────────────────────────────────────────────
// Discount hooks
// ──────────────────────────────────────────────────

// OnDiscountApplied implements plugin.OnDiscountApplied.
func (e *Extension) OnDiscountApplied(ctx context.Context, res *discount.Result) error {
	return e.record(ctx, ActionDiscountApplied, SeverityInfo, OutcomeSuccess,
		ResourceDiscount, res.Code, CategoryPromotion,
		contextActor(ctx), nil,
		"audience_key", res.AudienceKey,
		"original_price", res.OriginalPrice.Amount,
		"discount", res.Discount.Amount,
		"currency", res.Discount.Currency,
		"was_capped", res.WasCapped,
	)
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnWithdrawalRequested implements plugin.OnWithdrawalRequested.
func (e *Extension) OnWithdrawalRequested(ctx context.Context, r *withdrawal.Request) error {
	return e.record(ctx, ActionWithdrawalRequested, SeverityInfo, OutcomeSuccess,
		ResourceWithdrawal, r.ID.String(), CategoryPayout,
		entityActor(ctx, r.Entity, ""), nil,
		"requester_id", r.RequesterID,
		"amount", r.Amount.Amount,
		"currency", r.Amount.Currency,
		"destination_type", string(r.Destination.Type),
	)
}

// OnWithdrawalApproved implements plugin.OnWithdrawalApproved.
func (e *Extension) OnWithdrawalApproved(ctx context.Context, r *withdrawal.Request) error {
	return e.record(ctx, ActionWithdrawalApproved, SeverityInfo, OutcomeSuccess,
		ResourceWithdrawal, r.ID.String(), CategoryPayout,
		entityActor(ctx, r.Entity, ""), nil,
		"requester_id", r.RequesterID,
		"amount", r.Amount.Amount,
	)
}

// OnWithdrawalProcessed implements plugin.OnWithdrawalProcessed.
func (e *Extension) OnWithdrawalProcessed(ctx context.Context, r *withdrawal.Request, tx *wallet.Transaction) error {
	return e.record(ctx, ActionWithdrawalProcessed, SeverityInfo, OutcomeSuccess,
		ResourceWithdrawal, r.ID.String(), CategoryPayout,
		entityActor(ctx, r.Entity, tx.SourceIP), nil,
		"requester_id", r.RequesterID,
		"amount", r.Amount.Amount,
		"wallet_transaction_id", tx.ID.String(),
		"payout_reference", r.PayoutReference,
	)
}

// OnWithdrawalClosed implements plugin.OnWithdrawalClosed.
func (e *Extension) OnWithdrawalClosed(ctx context.Context, r *withdrawal.Request) error {
	action := ActionWithdrawalCancelled
	if r.Status == withdrawal.StatusRejected {
		action = ActionWithdrawalRejected
	}
	return e.record(ctx, action, SeverityWarning, OutcomeSuccess,
		ResourceWithdrawal, r.ID.String(), CategoryPayout,
		entityActor(ctx, r.Entity, ""), nil,
		"requester_id", r.RequesterID,
		"amount", r.Amount.Amount,
		"admin_notes", r.AdminNotes,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	who actor,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		if s, isStr := kvPairs[i+1].(string); isStr && s == "" {
			continue
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		ActorID:    who.id,
		SourceIP:   who.sourceIP,
		Timestamp:  who.at.UTC(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
