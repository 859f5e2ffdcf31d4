package tally_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
)

func TestCreditOpensWallet(t *testing.T) {
	e := newEngine(t)

	_, err := e.GetWallet(t.Context(), "u1")
	assert.ErrorIs(t, err, tally.ErrWalletNotFound)

	tx, err := e.CreditWallet(t.Context(), tally.CreditRequest{
		UserID:      "u1",
		Amount:      types.USD(1000),
		Reference:   "DEP-1",
		Description: "deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, wallet.DirectionCredit, tx.Direction)
	assert.Equal(t, wallet.StatusSucceeded, tx.Status)
	assert.Equal(t, "DEP-1", tx.Reference)

	acct, err := e.GetWallet(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "usd", acct.Currency)
	assert.Equal(t, acct.ID.String(), tx.WalletID.String())
	assert.Equal(t, int64(1000), balance(t, e, "u1"))
}

func TestCreditReplay(t *testing.T) {
	e := newEngine(t)
	req := tally.CreditRequest{UserID: "u1", Amount: types.USD(1000), Reference: "DEP-1"}

	first, err := e.CreditWallet(t.Context(), req)
	require.NoError(t, err)
	second, err := e.CreditWallet(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), second.ID.String())
	assert.Equal(t, int64(1000), balance(t, e, "u1"))

	req.Amount = types.USD(999)
	_, err = e.CreditWallet(t.Context(), req)
	assert.ErrorIs(t, err, tally.ErrDuplicateReference)

	// The same reference on another user's wallet is a different operation.
	_, err = e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u2", Amount: types.USD(1000), Reference: "DEP-1"})
	assert.ErrorIs(t, err, tally.ErrDuplicateReference)
	_, err = e.GetWallet(t.Context(), "u2")
	assert.ErrorIs(t, err, tally.ErrWalletNotFound, "rolled back wallet creation")
}

func TestCreditValidation(t *testing.T) {
	e := newEngine(t)
	fund(t, e, "u1", 100)

	tests := []struct {
		name string
		req  tally.CreditRequest
		want error
	}{
		{"zero amount", tally.CreditRequest{UserID: "u1", Amount: types.USD(0)}, tally.ErrInvalidAmount},
		{"negative amount", tally.CreditRequest{UserID: "u1", Amount: types.USD(-5)}, tally.ErrInvalidAmount},
		{"missing user", tally.CreditRequest{Amount: types.USD(5)}, tally.ErrInvalidInput},
		{"bad status", tally.CreditRequest{UserID: "u1", Amount: types.USD(5), Status: wallet.StatusFailed}, tally.ErrInvalidInput},
		{"other currency", tally.CreditRequest{UserID: "u1", Amount: types.EUR(5)}, tally.ErrCurrencyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreditWallet(t.Context(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(100), balance(t, e, "u1"))
}

func TestDebitWallet(t *testing.T) {
	e := newEngine(t)

	_, err := e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(10)})
	assert.ErrorIs(t, err, tally.ErrWalletNotFound)

	fund(t, e, "u1", 100)

	tx, err := e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(60), Reference: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, wallet.DirectionDebit, tx.Direction)
	assert.Equal(t, int64(40), balance(t, e, "u1"))

	_, err = e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(41)})
	assert.ErrorIs(t, err, tally.ErrInsufficientFunds)

	// A replay is answered before the balance check.
	again, err := e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(60), Reference: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, tx.ID.String(), again.ID.String())
	assert.Equal(t, int64(40), balance(t, e, "u1"))
}

func TestLockedWallet(t *testing.T) {
	e := newEngine(t)
	fund(t, e, "u1", 100)

	acct, err := e.LockWallet(t.Context(), "u1", "chargeback review")
	require.NoError(t, err)
	assert.True(t, acct.Locked)

	_, err = e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(10)})
	assert.ErrorIs(t, err, tally.ErrWalletLocked)

	// Credits are still accepted.
	fund(t, e, "u1", 50)
	assert.Equal(t, int64(150), balance(t, e, "u1"))

	_, err = e.UnlockWallet(t.Context(), "u1")
	require.NoError(t, err)
	_, err = e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(10)})
	require.NoError(t, err)
}

func TestPendingCreditResolution(t *testing.T) {
	e := newEngine(t)

	tx, err := e.CreditWallet(t.Context(), tally.CreditRequest{
		UserID: "u1",
		Amount: types.USD(500),
		Status: wallet.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance(t, e, "u1"))

	resolved, err := e.ResolveWalletTransaction(t.Context(), tx.ID, wallet.StatusSucceeded)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusSucceeded, resolved.Status)
	assert.Equal(t, int64(500), balance(t, e, "u1"))

	_, err = e.ResolveWalletTransaction(t.Context(), tx.ID, wallet.StatusFailed)
	assert.ErrorIs(t, err, tally.ErrInvalidTransition)
}

func TestAttachPayment(t *testing.T) {
	e := newEngine(t)
	fund(t, e, "u1", 100)

	txs, err := e.ListWalletTransactions(t.Context(), "u1", wallet.ListOpts{})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	pid := id.NewPaymentID()
	tx, err := e.AttachPayment(t.Context(), txs[0].ID, pid)
	require.NoError(t, err)
	assert.Equal(t, pid.String(), tx.PaymentID.String())

	_, err = e.AttachPayment(t.Context(), txs[0].ID, pid)
	require.NoError(t, err, "attaching the same payment again is a no-op")

	_, err = e.AttachPayment(t.Context(), txs[0].ID, id.NewPaymentID())
	assert.ErrorIs(t, err, tally.ErrAlreadyAttached)
}

func TestListWalletTransactions(t *testing.T) {
	e := newEngine(t)
	fund(t, e, "u1", 100)
	fund(t, e, "u1", 200)
	_, err := e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(50)})
	require.NoError(t, err)

	all, err := e.ListWalletTransactions(t.Context(), "u1", wallet.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, wallet.DirectionDebit, all[0].Direction, "newest first")

	credits, err := e.ListWalletTransactions(t.Context(), "u1", wallet.ListOpts{Direction: wallet.DirectionCredit})
	require.NoError(t, err)
	assert.Len(t, credits, 2)

	page, err := e.ListWalletTransactions(t.Context(), "u1", wallet.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(200), page[0].Amount.Amount)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	forEachBackend(t, func(t *testing.T, e *tally.Tally) {
		fund(t, e, "u1", 1000)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ok      int
			refused int
		)
		for range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.USD(100)})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if assert.ErrorIs(t, err, tally.ErrInsufficientFunds) {
					refused++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, ok)
		assert.Equal(t, 15, refused)
		assert.Equal(t, int64(0), balance(t, e, "u1"))
	}, tally.WithMaxRetries(50))
}

func TestCurrencyCodesAreNormalized(t *testing.T) {
	e := newEngine(t)

	_, err := e.CreditWallet(t.Context(), tally.CreditRequest{
		UserID: "u1",
		Amount: types.Money{Amount: 1000, Currency: " USD"},
	})
	require.NoError(t, err)
	acct, err := e.GetWallet(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "usd", acct.Currency)

	_, err = e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(500)})
	require.NoError(t, err)
	_, err = e.DebitWallet(t.Context(), tally.DebitRequest{UserID: "u1", Amount: types.Money{Amount: 100, Currency: "Usd"}})
	require.NoError(t, err)

	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID: "u1",
		Items: []invoice.LineItem{{
			Description: "widget",
			UnitPrice:   types.Money{Amount: 400, Currency: "USD"},
			Quantity:    decimal.NewFromInt(1),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "usd", inv.Currency)

	p, err := e.SettleInvoiceWithWallet(t.Context(), inv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, invoice.PaymentSucceeded, p.Status)
	assert.Equal(t, int64(1000), balance(t, e, "u1"))

	got, err := e.GetInvoice(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
}

func TestReplayRequiresSucceededPrior(t *testing.T) {
	e := newEngine(t)

	pending, err := e.CreditWallet(t.Context(), tally.CreditRequest{
		UserID:    "u1",
		Amount:    types.USD(500),
		Reference: "TOPUP-1",
		Status:    wallet.StatusPending,
	})
	require.NoError(t, err)

	again, err := e.CreditWallet(t.Context(), tally.CreditRequest{
		UserID:    "u1",
		Amount:    types.USD(500),
		Reference: "TOPUP-1",
		Status:    wallet.StatusPending,
	})
	require.NoError(t, err, "a pending request replays its pending prior")
	assert.Equal(t, pending.ID.String(), again.ID.String())

	_, err = e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(500), Reference: "TOPUP-1"})
	assert.ErrorIs(t, err, tally.ErrDuplicateReference, "pending prior is not a completed credit")

	_, err = e.ResolveWalletTransaction(t.Context(), pending.ID, wallet.StatusFailed)
	require.NoError(t, err)

	_, err = e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(500), Reference: "TOPUP-1"})
	assert.ErrorIs(t, err, tally.ErrDuplicateReference, "failed prior never replays")
	assert.Equal(t, int64(0), balance(t, e, "u1"))
}
