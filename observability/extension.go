// Package observability provides a metrics extension for Tally that records
// lifecycle event counts and amounts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnWalletCredited      = (*MetricsExtension)(nil)
	_ plugin.OnWalletDebited       = (*MetricsExtension)(nil)
	_ plugin.OnWalletLockChanged   = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCreated      = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid         = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCancelled    = (*MetricsExtension)(nil)
	_ plugin.OnPaymentSucceeded    = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed       = (*MetricsExtension)(nil)
	_ plugin.OnDiscountApplied     = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalRequested = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalApproved  = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalProcessed = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalClosed    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Tally plugin to track wallet and billing activity.
// Amounts are observed in minor currency units.
type MetricsExtension struct {
	factory MetricFactory

	// Wallet metrics
	WalletCredited     Counter
	WalletDebited      Counter
	WalletCreditAmount Histogram
	WalletDebitAmount  Histogram
	WalletLocked       Counter
	WalletUnlocked     Counter

	// Invoice metrics
	InvoiceCreated   Counter
	InvoicePaid      Counter
	InvoiceCancelled Counter
	InvoiceTotal     Histogram

	// Payment metrics
	PaymentSucceeded     Counter
	PaymentFailed        Counter
	WalletPayments       Counter
	GatewayPayments      Counter
	ManualPayments       Counter
	GatewayPaymentFailed Counter

	// Discount metrics
	DiscountApplied Counter
	DiscountCapped  Counter
	DiscountAmount  Histogram

	// Withdrawal metrics
	WithdrawalRequested Counter
	WithdrawalApproved  Counter
	WithdrawalProcessed Counter
	WithdrawalClosed    Counter
	WithdrawalAmount    Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory to export the metrics to Prometheus.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Wallet metrics
		WalletCredited:     factory.Counter("tally.wallet.credited"),
		WalletDebited:      factory.Counter("tally.wallet.debited"),
		WalletCreditAmount: factory.Histogram("tally.wallet.credit.amount"),
		WalletDebitAmount:  factory.Histogram("tally.wallet.debit.amount"),
		WalletLocked:       factory.Counter("tally.wallet.locked"),
		WalletUnlocked:     factory.Counter("tally.wallet.unlocked"),

		// Invoice metrics
		InvoiceCreated:   factory.Counter("tally.invoice.created"),
		InvoicePaid:      factory.Counter("tally.invoice.paid"),
		InvoiceCancelled: factory.Counter("tally.invoice.cancelled"),
		InvoiceTotal:     factory.Histogram("tally.invoice.grand_total"),

		// Payment metrics
		PaymentSucceeded:     factory.Counter("tally.payment.succeeded"),
		PaymentFailed:        factory.Counter("tally.payment.failed"),
		WalletPayments:       factory.Counter("tally.payment.wallet"),
		GatewayPayments:      factory.Counter("tally.payment.gateway"),
		ManualPayments:       factory.Counter("tally.payment.manual"),
		GatewayPaymentFailed: factory.Counter("tally.payment.gateway.failed"),

		// Discount metrics
		DiscountApplied: factory.Counter("tally.discount.applied"),
		DiscountCapped:  factory.Counter("tally.discount.capped"),
		DiscountAmount:  factory.Histogram("tally.discount.amount"),

		// Withdrawal metrics
		WithdrawalRequested: factory.Counter("tally.withdrawal.requested"),
		WithdrawalApproved:  factory.Counter("tally.withdrawal.approved"),
		WithdrawalProcessed: factory.Counter("tally.withdrawal.processed"),
		WithdrawalClosed:    factory.Counter("tally.withdrawal.closed"),
		WithdrawalAmount:    factory.Histogram("tally.withdrawal.amount"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletCredited implements plugin.OnWalletCredited.
func (m *MetricsExtension) OnWalletCredited(_ context.Context, tx *wallet.Transaction) error {
	m.WalletCredited.Inc()
	m.WalletCreditAmount.Observe(float64(tx.Amount.Amount))
	return nil
}

// OnWalletDebited implements plugin.OnWalletDebited.
func (m *MetricsExtension) OnWalletDebited(_ context.Context, tx *wallet.Transaction) error {
	m.WalletDebited.Inc()
	m.WalletDebitAmount.Observe(float64(tx.Amount.Amount))
	return nil
}

// OnWalletLockChanged implements plugin.OnWalletLockChanged.
func (m *MetricsExtension) OnWalletLockChanged(_ context.Context, acct *wallet.Account) error {
	if acct.Locked {
		m.WalletLocked.Inc()
	} else {
		m.WalletUnlocked.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (m *MetricsExtension) OnInvoiceCreated(_ context.Context, inv *invoice.Invoice) error {
	m.InvoiceCreated.Inc()
	m.InvoiceTotal.Observe(float64(inv.GrandTotal.Amount))
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	return nil
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (m *MetricsExtension) OnInvoiceCancelled(_ context.Context, _ *invoice.Invoice, _ string) error {
	m.InvoiceCancelled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentSucceeded implements plugin.OnPaymentSucceeded.
func (m *MetricsExtension) OnPaymentSucceeded(_ context.Context, _ *invoice.Invoice, p *invoice.Payment) error {
	m.PaymentSucceeded.Inc()
	switch {
	case p.Method == invoice.MethodWallet:
		m.WalletPayments.Inc()
	case p.Method == invoice.MethodOnlineGateway:
		m.GatewayPayments.Inc()
	case p.Method.IsManual():
		m.ManualPayments.Inc()
	}
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ *invoice.Invoice, p *invoice.Payment) error {
	m.PaymentFailed.Inc()
	if p.Method == invoice.MethodOnlineGateway {
		m.GatewayPaymentFailed.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Discount hooks
// ──────────────────────────────────────────────────

// OnDiscountApplied implements plugin.OnDiscountApplied.
func (m *MetricsExtension) OnDiscountApplied(_ context.Context, res *discount.Result) error {
	m.DiscountApplied.Inc()
	if res.WasCapped {
		m.DiscountCapped.Inc()
	}
	m.DiscountAmount.Observe(float64(res.Discount.Amount))
	return nil
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnWithdrawalRequested implements plugin.OnWithdrawalRequested.
func (m *MetricsExtension) OnWithdrawalRequested(_ context.Context, r *withdrawal.Request) error {
	m.WithdrawalRequested.Inc()
	m.WithdrawalAmount.Observe(float64(r.Amount.Amount))
	return nil
}

// OnWithdrawalApproved implements plugin.OnWithdrawalApproved.
func (m *MetricsExtension) OnWithdrawalApproved(_ context.Context, _ *withdrawal.Request) error {
	m.WithdrawalApproved.Inc()
	return nil
}

// OnWithdrawalProcessed implements plugin.OnWithdrawalProcessed.
func (m *MetricsExtension) OnWithdrawalProcessed(_ context.Context, _ *withdrawal.Request, _ *wallet.Transaction) error {
	m.WithdrawalProcessed.Inc()
	return nil
}

// OnWithdrawalClosed implements plugin.OnWithdrawalClosed.
func (m *MetricsExtension) OnWithdrawalClosed(_ context.Context, _ *withdrawal.Request) error {
	m.WithdrawalClosed.Inc()
	return nil
}
