// Package tally provides the financial core of a commerce platform: a
// per-user wallet ledger, invoice settlement, discount codes and withdrawals.
//
// Tally is designed as a library, not a service. Import it directly into your
// Go application, or run cmd/tallyd for migrations, the gateway sweeper and a
// metrics endpoint. It provides:
//
//   - An append-only wallet ledger whose balance is always derived
//   - Invoice settlement from the wallet, by bank transfer or cash, or through
//     an online payment gateway
//   - Percentage and fixed discount codes with audience group overrides
//   - Withdrawal requests paid out from the wallet after approval
//   - Plugin hooks, audit recording, Prometheus metrics and event publishing
//
// # Quick Start
//
// Create a tally instance with your preferred store:
//
//	import (
//	    "github.com/xraph/tally"
//	    "github.com/xraph/tally/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create the engine
//	t := tally.New(store)
//
//	// Start migrates the store and begins background workers
//	if err := t.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Stop()
//
// # Core Concepts
//
// A wallet is credited and debited through immutable transactions. The
// balance is the sum of succeeded credits minus succeeded debits and can
// never become negative:
//
//	t.CreditWallet(ctx, tally.CreditRequest{UserID: "u1", Amount: tally.USD(1000), Reference: "DEP-1"})
//
// Invoices are settled by one or more payments. The invoice status is
// recomputed from its payments and is never set directly:
//
//	inv, err := t.CreateInvoice(ctx, tally.InvoiceRequest{UserID: "u1", Items: items})
//	payment, err := t.SettleInvoiceWithWallet(ctx, inv.ID, "u1")
//
// Every mutation runs in one store transaction. Wallets, invoices, discount
// codes and withdrawal requests are locked for the duration of the
// transaction, always in the order invoice, wallet. Operations that carry an
// idempotency reference return the original result when replayed.
//
// # Money
//
// All monetary calculations use integer arithmetic in minor units. Rounding
// of percentages and fractional quantities is half away from zero.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	wal_01h2xcejqtf2nbrexx3vqjhp41  // Wallet ID
//	inv_01h455vb4pex5vsknk084sn02q  // Invoice ID
//	pay_01h455vb4pex5vsknk084sn02q  // Payment ID
package tally
