package invoice_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInvoice(t *testing.T, items ...invoice.LineItem) *invoice.Invoice {
	t.Helper()
	inv := &invoice.Invoice{
		ID:         id.NewInvoiceID(),
		Number:     "INV-TEST",
		UserID:     "user-1",
		Currency:   "usd",
		Kind:       invoice.KindPurchase,
		Status:     invoice.StatusPending,
		LineItems:  items,
		TaxAmount:  types.USD(0),
		Adjustment: types.USD(0),
	}
	require.NoError(t, inv.Validate())
	require.NoError(t, inv.ComputeTotals())
	return inv
}

func item(unit int64, qty string) invoice.LineItem {
	return invoice.LineItem{
		ID:          id.NewLineItemID(),
		Description: "item",
		UnitPrice:   types.USD(unit),
		Quantity:    decimal.RequireFromString(qty),
	}
}

func payment(amount int64, status invoice.PaymentStatus, method invoice.Method) *invoice.Payment {
	return &invoice.Payment{
		ID:        id.NewPaymentID(),
		Amount:    types.USD(amount),
		Method:    method,
		Status:    status,
		Reference: types.NewReference(types.RefManualPayment),
	}
}

func TestLineItemTotal(t *testing.T) {
	tests := []struct {
		name string
		item invoice.LineItem
		want int64
	}{
		{"whole quantity", item(250, "3"), 750},
		{"fractional quantity rounds half away from zero", item(333, "1.5"), 500},
		{"discount subtracted", func() invoice.LineItem {
			li := item(1000, "2")
			li.Discount = types.USD(150)
			return li
		}(), 1850},
		{"discount floors at zero", func() invoice.LineItem {
			li := item(100, "1")
			li.Discount = types.USD(500)
			return li
		}(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Total().Amount)
		})
	}
}

func TestComputeTotals(t *testing.T) {
	inv := &invoice.Invoice{
		Currency:   "usd",
		LineItems:  []invoice.LineItem{item(250, "2"), item(100, "1")},
		TaxAmount:  types.USD(60),
		Adjustment: types.USD(-10),
	}
	require.NoError(t, inv.ComputeTotals())
	assert.Equal(t, int64(600), inv.Subtotal.Amount)
	assert.Equal(t, int64(650), inv.GrandTotal.Amount)

	inv.Adjustment = types.USD(-1000)
	err := inv.ComputeTotals()
	assert.True(t, errs.IsValidation(err))
}

func TestValidate(t *testing.T) {
	inv := &invoice.Invoice{
		Currency:   "usd",
		Kind:       invoice.KindPurchase,
		TaxAmount:  types.USD(0),
		Adjustment: types.USD(0),
	}
	err := inv.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	var me errs.MultiError
	require.True(t, errors.As(err, &me))
	assert.Len(t, me.Errors, 2) // user_id, line_items

	inv.UserID = "user-1"
	inv.LineItems = []invoice.LineItem{{UnitPrice: types.EUR(100), Quantity: decimal.NewFromInt(1)}}
	assert.Error(t, inv.Validate())

	inv.LineItems = []invoice.LineItem{item(100, "0")}
	assert.Error(t, inv.Validate())

	inv.LineItems = []invoice.LineItem{item(100, "1")}
	assert.NoError(t, inv.Validate())
}

func TestAddPaymentAndRefresh(t *testing.T) {
	inv := newInvoice(t, item(600, "1"))
	assert.Equal(t, int64(600), inv.Outstanding().Amount)

	require.NoError(t, inv.AddPayment(payment(200, invoice.PaymentSucceeded, invoice.MethodCash)))
	assert.False(t, inv.Refresh(now, "admin"))
	assert.Equal(t, invoice.StatusPartiallyPaid, inv.Status)
	assert.Equal(t, int64(400), inv.Outstanding().Amount)
	assert.Equal(t, int64(200), inv.PaidAmount.Amount)

	err := inv.AddPayment(payment(401, invoice.PaymentSucceeded, invoice.MethodCash))
	assert.ErrorIs(t, err, errs.ErrExceedsOutstanding)

	require.NoError(t, inv.AddPayment(payment(400, invoice.PaymentSucceeded, invoice.MethodBankTransfer)))
	assert.True(t, inv.Refresh(now, "admin"))
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	assert.True(t, inv.Outstanding().IsZero())
	require.NotNil(t, inv.PaidAt)

	// Already paid: a second refresh does not report a new transition.
	assert.False(t, inv.Refresh(now, "admin"))
	assert.ErrorIs(t, inv.CheckPayable(), errs.ErrAlreadySettled)
}

func TestAddPaymentRejectsMismatch(t *testing.T) {
	inv := newInvoice(t, item(600, "1"))

	p := payment(100, invoice.PaymentSucceeded, invoice.MethodCash)
	p.Amount = types.EUR(100)
	assert.ErrorIs(t, inv.AddPayment(p), errs.ErrCurrencyMismatch)

	assert.ErrorIs(t, inv.AddPayment(payment(0, invoice.PaymentSucceeded, invoice.MethodCash)), errs.ErrInvalidAmount)
}

func TestPendingPaymentDoesNotCount(t *testing.T) {
	inv := newInvoice(t, item(600, "1"))
	p := payment(600, invoice.PaymentPending, invoice.MethodOnlineGateway)
	require.NoError(t, inv.AddPayment(p))
	inv.Refresh(now, "")

	assert.Equal(t, invoice.StatusPending, inv.Status)
	assert.Equal(t, int64(600), inv.Outstanding().Amount)
	assert.Same(t, p, inv.PendingGatewayPayment())
	assert.ErrorIs(t, inv.CheckPayable(), errs.ErrPaymentPending)

	require.NoError(t, p.Fail(now, "", "verification timeout"))
	assert.Nil(t, inv.PendingGatewayPayment())
	assert.NoError(t, inv.CheckPayable())
	assert.ErrorIs(t, p.Succeed(now, "", "trk"), errs.ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	t.Run("pending invoice", func(t *testing.T) {
		inv := newInvoice(t, item(600, "1"))
		require.NoError(t, inv.Cancel(now, "admin", "customer request"))
		assert.Equal(t, invoice.StatusCancelled, inv.Status)
		assert.ErrorIs(t, inv.CheckPayable(), errs.ErrInvoiceCancelled)
		assert.ErrorIs(t, inv.Cancel(now, "admin", "again"), errs.ErrInvalidTransition)
	})

	t.Run("succeeded payment blocks cancel", func(t *testing.T) {
		inv := newInvoice(t, item(600, "1"))
		require.NoError(t, inv.AddPayment(payment(100, invoice.PaymentSucceeded, invoice.MethodCash)))
		inv.Refresh(now, "")
		assert.ErrorIs(t, inv.Cancel(now, "admin", ""), errs.ErrInvalidTransition)
	})

	t.Run("pending gateway payment blocks cancel", func(t *testing.T) {
		inv := newInvoice(t, item(600, "1"))
		require.NoError(t, inv.AddPayment(payment(600, invoice.PaymentPending, invoice.MethodOnlineGateway)))
		assert.ErrorIs(t, inv.Cancel(now, "admin", ""), errs.ErrPaymentPending)
	})

	t.Run("refresh keeps cancelled", func(t *testing.T) {
		inv := newInvoice(t, item(600, "1"))
		require.NoError(t, inv.Cancel(now, "admin", ""))
		inv.Refresh(now, "")
		assert.Equal(t, invoice.StatusCancelled, inv.Status)
	})
}

func TestPaymentExpired(t *testing.T) {
	p := payment(100, invoice.PaymentPending, invoice.MethodOnlineGateway)
	assert.False(t, p.Expired(now))

	exp := now.Add(-time.Minute)
	p.ExpiresAt = &exp
	assert.True(t, p.Expired(now))

	require.NoError(t, p.Succeed(now, "", "trk-1"))
	assert.False(t, p.Expired(now))
	assert.Equal(t, "trk-1", p.ExternalID)
}
