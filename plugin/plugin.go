// Package plugin provides an extensible plugin system for Tally.
// Plugins hook into lifecycle events after the store transaction that
// produced them has committed. A failing or slow plugin never affects the
// operation that emitted the event.
package plugin

import (
	"context"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletCredited is called when a credit succeeds.
type OnWalletCredited interface {
	Plugin
	OnWalletCredited(ctx context.Context, tx *wallet.Transaction) error
}

// OnWalletDebited is called when a debit succeeds.
type OnWalletDebited interface {
	Plugin
	OnWalletDebited(ctx context.Context, tx *wallet.Transaction) error
}

// OnWalletLockChanged is called when a wallet is locked or unlocked.
type OnWalletLockChanged interface {
	Plugin
	OnWalletLockChanged(ctx context.Context, account *wallet.Account) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated is called when an invoice is created.
type OnInvoiceCreated interface {
	Plugin
	OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoicePaid is called when an invoice becomes paid.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceCancelled is called when an invoice is cancelled.
type OnInvoiceCancelled interface {
	Plugin
	OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentSucceeded is called when a payment is recorded as succeeded.
type OnPaymentSucceeded interface {
	Plugin
	OnPaymentSucceeded(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error
}

// OnPaymentFailed is called when a payment is resolved as failed.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error
}

// ──────────────────────────────────────────────────
// Discount hooks
// ──────────────────────────────────────────────────

// OnDiscountApplied is called when a discount code is redeemed.
type OnDiscountApplied interface {
	Plugin
	OnDiscountApplied(ctx context.Context, res *discount.Result) error
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnWithdrawalRequested is called when a withdrawal request is created.
type OnWithdrawalRequested interface {
	Plugin
	OnWithdrawalRequested(ctx context.Context, r *withdrawal.Request) error
}

// OnWithdrawalApproved is called when a withdrawal request is approved.
type OnWithdrawalApproved interface {
	Plugin
	OnWithdrawalApproved(ctx context.Context, r *withdrawal.Request) error
}

// OnWithdrawalProcessed is called when an approved withdrawal is paid out.
type OnWithdrawalProcessed interface {
	Plugin
	OnWithdrawalProcessed(ctx context.Context, r *withdrawal.Request, tx *wallet.Transaction) error
}

// OnWithdrawalClosed is called when a withdrawal is rejected or cancelled.
type OnWithdrawalClosed interface {
	Plugin
	OnWithdrawalClosed(ctx context.Context, r *withdrawal.Request) error
}
