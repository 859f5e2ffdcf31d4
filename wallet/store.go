package wallet

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists wallet accounts and their transactions. Methods are called
// inside a store transaction; Lock variants take the account's write lock.
type Store interface {
	GetWallet(ctx context.Context, userID string) (*Account, error)
	LockWallet(ctx context.Context, userID string) (*Account, error)
	CreateWallet(ctx context.Context, a *Account) error
	UpdateWallet(ctx context.Context, a *Account) error

	// WalletBalance returns Σ succeeded credits − Σ succeeded debits in minor units.
	WalletBalance(ctx context.Context, walletID id.WalletID) (int64, error)

	CreateWalletTransaction(ctx context.Context, t *Transaction) error
	UpdateWalletTransaction(ctx context.Context, t *Transaction) error
	GetWalletTransaction(ctx context.Context, txID id.WalletTxID) (*Transaction, error)
	GetWalletTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	ListWalletTransactions(ctx context.Context, walletID id.WalletID, opts ListOpts) ([]*Transaction, error)
}

// ListOpts filters transaction listings.
type ListOpts struct {
	Direction Direction
	Status    Status
	Limit     int
	Offset    int
}
