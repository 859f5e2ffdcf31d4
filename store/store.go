// Package store defines the transactional persistence contract used by the
// Tally engine.
package store

import (
	"context"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Tx is a unit of work. Every read and write of the engine goes through a
// Tx so lock scope and I/O boundaries stay explicit. Lock* methods take an
// exclusive row lock that is held until the transaction ends.
//
// The per-domain store interfaces use disjoint method names, so Tx embeds
// them directly.
type Tx interface {
	wallet.Store
	invoice.Store
	discount.Store
	withdrawal.Store
	settings.Store
}

// Store is the unified storage interface for all Tally entities.
type Store interface {
	// RunInTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Lock conflicts and
	// serialization failures are reported as errs.ErrConcurrentUpdate.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
