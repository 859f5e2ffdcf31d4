// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Factory returns a migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var at = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// Run runs the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Wallets", testWallets},
		{"WalletTransactions", testWalletTransactions},
		{"Rollback", testRollback},
		{"Invoices", testInvoices},
		{"Payments", testPayments},
		{"DiscountCodes", testDiscountCodes},
		{"Withdrawals", testWithdrawals},
		{"Settings", testSettings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func inTx(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx)) {
	t.Helper()
	err := s.RunInTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		fn(ctx, tx)
		return nil
	})
	require.NoError(t, err)
}

func newAccount(userID string) *wallet.Account {
	return &wallet.Account{
		Entity:   types.NewEntityAt(at, "test"),
		ID:       id.NewWalletID(),
		UserID:   userID,
		Currency: "usd",
	}
}

func newWalletTx(a *wallet.Account, dir wallet.Direction, amount int64, status wallet.Status) *wallet.Transaction {
	return &wallet.Transaction{
		Entity:    types.NewEntityAt(at, "test"),
		ID:        id.NewWalletTxID(),
		WalletID:  a.ID,
		UserID:    a.UserID,
		Direction: dir,
		Amount:    types.USD(amount),
		Reference: types.NewReference(types.RefWalletCredit),
		Status:    status,
		Metadata:  map[string]string{"source": "suite"},
	}
}

func newInvoice(userID string) *invoice.Invoice {
	inv := &invoice.Invoice{
		Entity:   types.NewEntityAt(at, "test"),
		ID:       id.NewInvoiceID(),
		Number:   types.NewReference(types.RefInvoice),
		UserID:   userID,
		Currency: "usd",
		Kind:     invoice.KindPurchase,
		Status:   invoice.StatusPending,
		LineItems: []invoice.LineItem{{
			ID:          id.NewLineItemID(),
			Description: "widget",
			UnitPrice:   types.USD(250),
			Quantity:    decimal.RequireFromString("2.5"),
			Discount:    types.USD(25),
		}},
		TaxAmount:      types.USD(50),
		Adjustment:     types.USD(0),
		DiscountAmount: types.USD(0),
		PaidAmount:     types.USD(0),
		Note:           "suite",
	}
	_ = inv.ComputeTotals()
	return inv
}

func testWallets(t *testing.T, s store.Store) {
	a := newAccount("user-1")
	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateWallet(ctx, a))
		err := tx.CreateWallet(ctx, newAccount("user-1"))
		assert.ErrorIs(t, err, errs.ErrAlreadyExists)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.LockWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, a.ID.String(), got.ID.String())
		assert.Equal(t, "usd", got.Currency)
		assert.False(t, got.Locked)

		got.Locked = true
		got.LockReason = "fraud review"
		require.NoError(t, tx.UpdateWallet(ctx, got))

		_, err = tx.GetWallet(ctx, "nobody")
		assert.ErrorIs(t, err, errs.ErrWalletNotFound)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, got.Locked)
		assert.Equal(t, "fraud review", got.LockReason)
	})
}

func testWalletTransactions(t *testing.T, s store.Store) {
	a := newAccount("user-1")
	credit := newWalletTx(a, wallet.DirectionCredit, 1000, wallet.StatusSucceeded)
	debit := newWalletTx(a, wallet.DirectionDebit, 300, wallet.StatusSucceeded)
	pending := newWalletTx(a, wallet.DirectionCredit, 500, wallet.StatusPending)

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateWallet(ctx, a))
		for _, wt := range []*wallet.Transaction{credit, debit, pending} {
			require.NoError(t, tx.CreateWalletTransaction(ctx, wt))
		}

		dup := newWalletTx(a, wallet.DirectionCredit, 1, wallet.StatusSucceeded)
		dup.Reference = credit.Reference
		assert.ErrorIs(t, tx.CreateWalletTransaction(ctx, dup), errs.ErrDuplicateReference)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		bal, err := tx.WalletBalance(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(700), bal)

		got, err := tx.GetWalletTransactionByReference(ctx, debit.Reference)
		require.NoError(t, err)
		assert.Equal(t, debit.ID.String(), got.ID.String())
		assert.Equal(t, wallet.DirectionDebit, got.Direction)
		assert.Equal(t, types.USD(300), got.Amount)
		assert.Equal(t, "suite", got.Metadata["source"])

		got, err = tx.GetWalletTransaction(ctx, pending.ID)
		require.NoError(t, err)
		got.Status = wallet.StatusSucceeded
		got.PaymentID = id.NewPaymentID()
		require.NoError(t, tx.UpdateWalletTransaction(ctx, got))

		_, err = tx.GetWalletTransaction(ctx, id.NewWalletTxID())
		assert.ErrorIs(t, err, errs.ErrTransactionNotFound)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		bal, err := tx.WalletBalance(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), bal)

		all, err := tx.ListWalletTransactions(ctx, a.ID, wallet.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		credits, err := tx.ListWalletTransactions(ctx, a.ID, wallet.ListOpts{Direction: wallet.DirectionCredit})
		require.NoError(t, err)
		assert.Len(t, credits, 2)

		page, err := tx.ListWalletTransactions(ctx, a.ID, wallet.ListOpts{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})
}

func testRollback(t *testing.T, s store.Store) {
	a := newAccount("user-1")
	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateWallet(ctx, a))
	})

	boom := errors.New("boom")
	err := s.RunInTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateWalletTransaction(ctx, newWalletTx(a, wallet.DirectionCredit, 1000, wallet.StatusSucceeded)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		bal, err := tx.WalletBalance(ctx, a.ID)
		require.NoError(t, err)
		assert.Zero(t, bal)
	})
}

func testInvoices(t *testing.T, s store.Store) {
	inv := newInvoice("user-1")
	other := newInvoice("user-2")
	other.Kind = invoice.KindWalletTopUp

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateInvoice(ctx, inv))
		require.NoError(t, tx.CreateInvoice(ctx, other))

		dup := newInvoice("user-1")
		dup.Number = inv.Number
		assert.ErrorIs(t, tx.CreateInvoice(ctx, dup), errs.ErrAlreadyExists)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.LockInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, inv.Number, got.Number)
		assert.Equal(t, inv.GrandTotal, got.GrandTotal)
		require.Len(t, got.LineItems, 1)
		assert.True(t, got.LineItems[0].Quantity.Equal(decimal.RequireFromString("2.5")))
		assert.Equal(t, types.USD(25), got.LineItems[0].Discount)
		assert.Empty(t, got.Payments)

		got.Note = "updated"
		got.Status = invoice.StatusCancelled
		require.NoError(t, tx.UpdateInvoice(ctx, got))

		_, err = tx.GetInvoice(ctx, id.NewInvoiceID())
		assert.ErrorIs(t, err, errs.ErrInvoiceNotFound)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetInvoiceByNumber(ctx, inv.Number)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Note)
		assert.Equal(t, invoice.StatusCancelled, got.Status)

		mine, err := tx.ListInvoices(ctx, invoice.ListOpts{UserID: "user-1"})
		require.NoError(t, err)
		assert.Len(t, mine, 1)

		topups, err := tx.ListInvoices(ctx, invoice.ListOpts{Kind: invoice.KindWalletTopUp})
		require.NoError(t, err)
		require.Len(t, topups, 1)
		assert.Equal(t, other.ID.String(), topups[0].ID.String())
	})
}

func testPayments(t *testing.T, s store.Store) {
	inv := newInvoice("user-1")
	expires := at.Add(15 * time.Minute)
	gw := &invoice.Payment{
		Entity:    types.NewEntityAt(at, "test"),
		ID:        id.NewPaymentID(),
		InvoiceID: inv.ID,
		Amount:    inv.GrandTotal,
		Method:    invoice.MethodOnlineGateway,
		Status:    invoice.PaymentPending,
		Reference: types.NewReference(types.RefGatewayPayment),
		Gateway:   "acme",
		ExpiresAt: &expires,
	}
	cash := &invoice.Payment{
		Entity:    types.NewEntityAt(at, "test"),
		ID:        id.NewPaymentID(),
		InvoiceID: inv.ID,
		Amount:    types.USD(100),
		Method:    invoice.MethodCash,
		Status:    invoice.PaymentSucceeded,
		Reference: types.NewReference(types.RefManualPayment),
	}

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateInvoice(ctx, inv))
		require.NoError(t, tx.CreatePayment(ctx, cash))
		require.NoError(t, tx.CreatePayment(ctx, gw))

		dup := *cash
		dup.ID = id.NewPaymentID()
		assert.ErrorIs(t, tx.CreatePayment(ctx, &dup), errs.ErrDuplicateReference)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, got.Payments, 2)
		assert.Equal(t, cash.Reference, got.Payments[0].Reference)
		assert.Equal(t, gw.Reference, got.Payments[1].Reference)
		assert.Equal(t, int64(100), got.Paid().Amount)

		p, err := tx.GetPaymentByReference(ctx, gw.Reference)
		require.NoError(t, err)
		p.GatewayReference = "sess_1"
		p.PaymentURL = "https://pay.example.com/sess_1"
		require.NoError(t, tx.UpdatePayment(ctx, p))
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		p, err := tx.GetPaymentByGatewayReference(ctx, "sess_1")
		require.NoError(t, err)
		assert.Equal(t, gw.ID.String(), p.ID.String())
		require.NotNil(t, p.ExpiresAt)
		assert.True(t, expires.Equal(*p.ExpiresAt))

		expired, err := tx.ListExpiredPayments(ctx, expires.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, gw.ID.String(), expired[0].ID.String())

		none, err := tx.ListExpiredPayments(ctx, expires.Add(-time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = tx.GetPaymentByGatewayReference(ctx, "sess_missing")
		assert.ErrorIs(t, err, errs.ErrPaymentNotFound)
	})
}

func testDiscountCodes(t *testing.T, s store.Store) {
	limit := int64(10)
	vip := decimal.NewFromInt(20)
	cap500 := types.USD(500)
	c := &discount.Code{
		Entity:     types.NewEntityAt(at, "test"),
		ID:         id.NewDiscountID(),
		Code:       "SPRING",
		Type:       discount.TypePercentage,
		Value:      decimal.NewFromInt(10),
		Currency:   "usd",
		Active:     true,
		StartsAt:   at,
		UsageLimit: &limit,
		Groups: []discount.GroupConfiguration{
			{Key: "VIP", Value: &vip, MaxDiscount: &cap500},
		},
	}

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateDiscountCode(ctx, c))
		assert.ErrorIs(t, tx.CreateDiscountCode(ctx, c), errs.ErrAlreadyExists)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.LockDiscountCode(ctx, "SPRING")
		require.NoError(t, err)
		require.NotNil(t, got.UsageLimit)
		assert.Equal(t, int64(10), *got.UsageLimit)
		require.Len(t, got.Groups, 1)
		require.NotNil(t, got.Groups[0].MaxDiscount)
		assert.Equal(t, cap500, *got.Groups[0].MaxDiscount)

		got.Redemptions = 3
		got.Groups[0].Redemptions = 2
		require.NoError(t, tx.UpdateDiscountCode(ctx, got))

		_, err = tx.GetDiscountCode(ctx, "NOPE")
		assert.ErrorIs(t, err, errs.ErrDiscountNotFound)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetDiscountCodeByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Redemptions)
		assert.Equal(t, int64(2), got.Group("VIP").Redemptions)
		assert.True(t, got.Group("VIP").Value.Equal(vip))

		list, err := tx.ListDiscountCodes(ctx, discount.ListOpts{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func testWithdrawals(t *testing.T, s store.Store) {
	r := &withdrawal.Request{
		Entity:        types.NewEntityAt(at, "test"),
		ID:            id.NewWithdrawalID(),
		RequesterID:   "seller-1",
		RequesterType: withdrawal.RequesterSeller,
		Amount:        types.USD(2500),
		Destination:   withdrawal.Destination{Type: withdrawal.DestinationIBAN, Value: "DE89370400440532013000", HolderName: "A Seller"},
		Status:        withdrawal.StatusPending,
	}

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.CreateWithdrawal(ctx, r))
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.LockWithdrawal(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Destination, got.Destination)
		require.NoError(t, got.Approve(at, "admin", "ok"))
		require.NoError(t, tx.UpdateWithdrawal(ctx, got))

		_, err = tx.GetWithdrawal(ctx, id.NewWithdrawalID())
		assert.ErrorIs(t, err, errs.ErrWithdrawalNotFound)
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		list, err := tx.ListWithdrawals(ctx, withdrawal.ListOpts{Status: withdrawal.StatusApproved})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "admin", list[0].ReviewedBy)
		assert.Equal(t, "ok", list[0].AdminNotes)

		list, err = tx.ListWithdrawals(ctx, withdrawal.ListOpts{RequesterID: "someone-else"})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func testSettings(t *testing.T, s store.Store) {
	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		_, err := tx.GetSettings(ctx)
		assert.ErrorIs(t, err, errs.ErrSettingsNotFound)
		require.NoError(t, tx.SaveSettings(ctx, settings.Default(at)))
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.LockSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, "usd", got.DefaultCurrency)
		got.MinimumWithdrawal = 5000
		require.NoError(t, tx.SaveSettings(ctx, got))
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.MinimumWithdrawal)
		assert.Equal(t, 15*time.Minute, got.GatewaySessionTTL)
	})
}
