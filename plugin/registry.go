package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onWalletCredited      []OnWalletCredited
	onWalletDebited       []OnWalletDebited
	onWalletLockChanged   []OnWalletLockChanged
	onInvoiceCreated      []OnInvoiceCreated
	onInvoicePaid         []OnInvoicePaid
	onInvoiceCancelled    []OnInvoiceCancelled
	onPaymentSucceeded    []OnPaymentSucceeded
	onPaymentFailed       []OnPaymentFailed
	onDiscountApplied     []OnDiscountApplied
	onWithdrawalRequested []OnWithdrawalRequested
	onWithdrawalApproved  []OnWithdrawalApproved
	onWithdrawalProcessed []OnWithdrawalProcessed
	onWithdrawalClosed    []OnWithdrawalClosed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	cache := func(ok bool, name string) {
		if ok {
			hooks = append(hooks, name)
		}
	}

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		cache(ok, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		cache(ok, "OnShutdown")
	}
	if v, ok := p.(OnWalletCredited); ok {
		r.onWalletCredited = append(r.onWalletCredited, v)
		cache(ok, "OnWalletCredited")
	}
	if v, ok := p.(OnWalletDebited); ok {
		r.onWalletDebited = append(r.onWalletDebited, v)
		cache(ok, "OnWalletDebited")
	}
	if v, ok := p.(OnWalletLockChanged); ok {
		r.onWalletLockChanged = append(r.onWalletLockChanged, v)
		cache(ok, "OnWalletLockChanged")
	}
	if v, ok := p.(OnInvoiceCreated); ok {
		r.onInvoiceCreated = append(r.onInvoiceCreated, v)
		cache(ok, "OnInvoiceCreated")
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
		cache(ok, "OnInvoicePaid")
	}
	if v, ok := p.(OnInvoiceCancelled); ok {
		r.onInvoiceCancelled = append(r.onInvoiceCancelled, v)
		cache(ok, "OnInvoiceCancelled")
	}
	if v, ok := p.(OnPaymentSucceeded); ok {
		r.onPaymentSucceeded = append(r.onPaymentSucceeded, v)
		cache(ok, "OnPaymentSucceeded")
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
		cache(ok, "OnPaymentFailed")
	}
	if v, ok := p.(OnDiscountApplied); ok {
		r.onDiscountApplied = append(r.onDiscountApplied, v)
		cache(ok, "OnDiscountApplied")
	}
	if v, ok := p.(OnWithdrawalRequested); ok {
		r.onWithdrawalRequested = append(r.onWithdrawalRequested, v)
		cache(ok, "OnWithdrawalRequested")
	}
	if v, ok := p.(OnWithdrawalApproved); ok {
		r.onWithdrawalApproved = append(r.onWithdrawalApproved, v)
		cache(ok, "OnWithdrawalApproved")
	}
	if v, ok := p.(OnWithdrawalProcessed); ok {
		r.onWithdrawalProcessed = append(r.onWithdrawalProcessed, v)
		cache(ok, "OnWithdrawalProcessed")
	}
	if v, ok := p.(OnWithdrawalClosed); ok {
		r.onWithdrawalClosed = append(r.onWithdrawalClosed, v)
		cache(ok, "OnWithdrawalClosed")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks, logging failures.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitWalletCredited emits a wallet credited event.
func (r *Registry) EmitWalletCredited(ctx context.Context, tx *wallet.Transaction) {
	emit(ctx, r, "OnWalletCredited", snapshot(r, &r.onWalletCredited), func(p OnWalletCredited) error {
		return p.OnWalletCredited(ctx, tx)
	})
}

// EmitWalletDebited emits a wallet debited event.
func (r *Registry) EmitWalletDebited(ctx context.Context, tx *wallet.Transaction) {
	emit(ctx, r, "OnWalletDebited", snapshot(r, &r.onWalletDebited), func(p OnWalletDebited) error {
		return p.OnWalletDebited(ctx, tx)
	})
}

// EmitWalletLockChanged emits a wallet lock change event.
func (r *Registry) EmitWalletLockChanged(ctx context.Context, account *wallet.Account) {
	emit(ctx, r, "OnWalletLockChanged", snapshot(r, &r.onWalletLockChanged), func(p OnWalletLockChanged) error {
		return p.OnWalletLockChanged(ctx, account)
	})
}

// EmitInvoiceCreated emits an invoice created event.
func (r *Registry) EmitInvoiceCreated(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoiceCreated", snapshot(r, &r.onInvoiceCreated), func(p OnInvoiceCreated) error {
		return p.OnInvoiceCreated(ctx, inv)
	})
}

// EmitInvoicePaid emits an invoice paid event.
func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoicePaid", snapshot(r, &r.onInvoicePaid), func(p OnInvoicePaid) error {
		return p.OnInvoicePaid(ctx, inv)
	})
}

// EmitInvoiceCancelled emits an invoice cancelled event.
func (r *Registry) EmitInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) {
	emit(ctx, r, "OnInvoiceCancelled", snapshot(r, &r.onInvoiceCancelled), func(p OnInvoiceCancelled) error {
		return p.OnInvoiceCancelled(ctx, inv, reason)
	})
}

// EmitPaymentSucceeded emits a payment succeeded event.
func (r *Registry) EmitPaymentSucceeded(ctx context.Context, inv *invoice.Invoice, pay *invoice.Payment) {
	emit(ctx, r, "OnPaymentSucceeded", snapshot(r, &r.onPaymentSucceeded), func(p OnPaymentSucceeded) error {
		return p.OnPaymentSucceeded(ctx, inv, pay)
	})
}

// EmitPaymentFailed emits a payment failed event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, inv *invoice.Invoice, pay *invoice.Payment) {
	emit(ctx, r, "OnPaymentFailed", snapshot(r, &r.onPaymentFailed), func(p OnPaymentFailed) error {
		return p.OnPaymentFailed(ctx, inv, pay)
	})
}

// EmitDiscountApplied emits a discount applied event.
func (r *Registry) EmitDiscountApplied(ctx context.Context, res *discount.Result) {
	emit(ctx, r, "OnDiscountApplied", snapshot(r, &r.onDiscountApplied), func(p OnDiscountApplied) error {
		return p.OnDiscountApplied(ctx, res)
	})
}

// EmitWithdrawalRequested emits a withdrawal requested event.
func (r *Registry) EmitWithdrawalRequested(ctx context.Context, req *withdrawal.Request) {
	emit(ctx, r, "OnWithdrawalRequested", snapshot(r, &r.onWithdrawalRequested), func(p OnWithdrawalRequested) error {
		return p.OnWithdrawalRequested(ctx, req)
	})
}

// EmitWithdrawalApproved emits a withdrawal approved event.
func (r *Registry) EmitWithdrawalApproved(ctx context.Context, req *withdrawal.Request) {
	emit(ctx, r, "OnWithdrawalApproved", snapshot(r, &r.onWithdrawalApproved), func(p OnWithdrawalApproved) error {
		return p.OnWithdrawalApproved(ctx, req)
	})
}

// EmitWithdrawalProcessed emits a withdrawal processed event.
func (r *Registry) EmitWithdrawalProcessed(ctx context.Context, req *withdrawal.Request, tx *wallet.Transaction) {
	emit(ctx, r, "OnWithdrawalProcessed", snapshot(r, &r.onWithdrawalProcessed), func(p OnWithdrawalProcessed) error {
		return p.OnWithdrawalProcessed(ctx, req, tx)
	})
}

// EmitWithdrawalClosed emits a withdrawal rejected or cancelled event.
func (r *Registry) EmitWithdrawalClosed(ctx context.Context, req *withdrawal.Request) {
	emit(ctx, r, "OnWithdrawalClosed", snapshot(r, &r.onWithdrawalClosed), func(p OnWithdrawalClosed) error {
		return p.OnWithdrawalClosed(ctx, req)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
