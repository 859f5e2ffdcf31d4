package tally

import (
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Re-export common types for convenience so users don't have to import every package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Domain types.
type (
	Wallet            = wallet.Account
	WalletTransaction = wallet.Transaction
	Invoice           = invoice.Invoice
	LineItem          = invoice.LineItem
	Payment           = invoice.Payment
	DiscountCode      = discount.Code
	DiscountResult    = discount.Result
	Withdrawal        = withdrawal.Request
)

// Re-export Money constructors
var (
	USD  = types.USD
	EUR  = types.EUR
	GBP  = types.GBP
	JPY  = types.JPY
	IRR  = types.IRR
	Zero = types.Zero
	Sum  = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
