package tally_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/gateway"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/types"
)

func newGatewayEngine(t *testing.T, opts ...tally.Option) (*tally.Tally, *fakeGateway, *clock) {
	t.Helper()
	gw := newFakeGateway()
	clk := newClock()
	opts = append([]tally.Option{
		tally.WithGateway(gw),
		tally.WithClock(clk.Now),
		tally.WithGatewaySessionTTL(15 * time.Minute),
	}, opts...)
	return newEngine(t, opts...), gw, clk
}

func TestGatewaySessionFlow(t *testing.T) {
	rec := newRecorder()
	e, gw, _ := newGatewayEngine(t, tally.WithPlugin(rec))
	inv := purchase(t, e, "u1", 600)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.GatewayReference)
	assert.Equal(t, "https://pay.example.com/sess-1", sess.PaymentURL)
	assert.True(t, sess.ExpiresAt.Equal(epoch.Add(15*time.Minute)))

	// An open session is returned as-is.
	again, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.GatewayReference, again.GatewayReference)
	creates, _ := gw.calls()
	assert.Equal(t, 1, creates)

	// Other settlements wait for the gateway.
	_, err = e.RecordPayment(t.Context(), inv.ID, tally.ManualPayment{Amount: types.USD(600), Method: invoice.MethodCash})
	assert.ErrorIs(t, err, tally.ErrPaymentPending)
	_, err = e.CancelInvoice(t.Context(), inv.ID, "")
	assert.ErrorIs(t, err, tally.ErrPaymentPending)

	rcpt, err := e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptPending, rcpt.Status)

	gw.resolve(sess.GatewayReference, gateway.ReceiptSucceeded, "TRK-9")
	rcpt, err = e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptSucceeded, rcpt.Status)
	assert.Equal(t, "TRK-9", rcpt.TrackingCode)

	got, err := e.GetInvoice(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, invoice.MethodOnlineGateway, got.Payments[0].Method)
	assert.Equal(t, "fake", got.Payments[0].Gateway)
	assert.Equal(t, "TRK-9", got.Payments[0].ExternalID)
	assert.Equal(t, 1, rec.count("invoice_paid"))

	// Resolved payments answer from the store.
	_, verifies := gw.calls()
	rcpt, err = e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptSucceeded, rcpt.Status)
	_, after := gw.calls()
	assert.Equal(t, verifies, after)
	assert.Equal(t, 1, rec.count("payment_succeeded"))

	_, err = e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	assert.ErrorIs(t, err, tally.ErrAlreadySettled)
}

func TestGatewayDeclined(t *testing.T) {
	e, gw, _ := newGatewayEngine(t)
	inv := purchase(t, e, "u1", 600)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	gw.resolve(sess.GatewayReference, gateway.ReceiptFailed, "")

	rcpt, err := e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptFailed, rcpt.Status)
	assert.Equal(t, tally.ReasonDeclined, rcpt.Message)

	got, err := e.GetInvoice(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, got.Status)
	require.Len(t, got.Payments, 1, "failed payments are kept")
	assert.Equal(t, invoice.PaymentFailed, got.Payments[0].Status)

	// A new session can be opened after a failure.
	next, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sess.GatewayReference, next.GatewayReference)
}

func TestGatewaySessionError(t *testing.T) {
	rec := newRecorder()
	e, gw, _ := newGatewayEngine(t, tally.WithPlugin(rec))
	inv := purchase(t, e, "u1", 600)
	gw.createErr = errors.New("connection refused")

	_, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.Error(t, err)
	assert.True(t, tally.IsGateway(err))
	assert.ErrorIs(t, err, tally.ErrGateway)

	got, err := e.GetInvoice(t.Context(), inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, invoice.PaymentFailed, got.Payments[0].Status)
	assert.Contains(t, got.Payments[0].FailureReason, "connection refused")
	assert.Equal(t, 1, rec.count("payment_failed"))

	gw.createErr = nil
	_, err = e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
}

func TestGatewayExpiry(t *testing.T) {
	e, gw, clk := newGatewayEngine(t)
	inv := purchase(t, e, "u1", 600)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)

	n, err := e.ExpirePendingPayments(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing expired yet")

	clk.Advance(16 * time.Minute)
	n, err = e.ExpirePendingPayments(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rcpt, err := e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptFailed, rcpt.Status)
	assert.Equal(t, tally.ReasonVerificationTimeout, rcpt.Message)

	// A late success report cannot revive the payment.
	gw.resolve(sess.GatewayReference, gateway.ReceiptSucceeded, "LATE")
	rcpt, err = e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptFailed, rcpt.Status)
}

func TestGatewayExpiredSessionIsVerifiedBeforeReplacement(t *testing.T) {
	e, gw, clk := newGatewayEngine(t)
	inv := purchase(t, e, "u1", 600)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	gw.resolve(sess.GatewayReference, gateway.ReceiptSucceeded, "TRK-1")
	clk.Advance(time.Hour)

	_, err = e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	assert.ErrorIs(t, err, tally.ErrAlreadySettled)

	got, err := e.GetInvoice(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
}

func TestGatewayVerifyErrorBeforeExpiry(t *testing.T) {
	e, gw, clk := newGatewayEngine(t)
	inv := purchase(t, e, "u1", 600)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)

	gw.verifyErr = errs.With(errs.ErrGatewayTimeout, "slow")
	_, err = e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	assert.ErrorIs(t, err, tally.ErrGatewayTimeout)

	// After expiry an unreachable gateway fails the payment.
	clk.Advance(time.Hour)
	rcpt, err := e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptFailed, rcpt.Status)
	assert.Equal(t, tally.ReasonVerificationTimeout, rcpt.Message)
}

func TestGatewayTopUp(t *testing.T) {
	e, gw, _ := newGatewayEngine(t)
	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID: "u1",
		Kind:   invoice.KindWalletTopUp,
		Items:  []invoice.LineItem{lineItem(5000)},
	})
	require.NoError(t, err)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	gw.resolve(sess.GatewayReference, gateway.ReceiptSucceeded, "TRK-2")

	_, err = e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance(t, e, "u1"))
}

func TestGatewayTopUpRefusedByWallet(t *testing.T) {
	rec := newRecorder()
	e, gw, clk := newGatewayEngine(t, tally.WithPlugin(rec))

	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID: "u1",
		Kind:   invoice.KindWalletTopUp,
		Items:  []invoice.LineItem{lineItem(5000)},
	})
	require.NoError(t, err)

	sess, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	require.NoError(t, err)
	gw.resolve(sess.GatewayReference, gateway.ReceiptSucceeded, "TRK-3")

	// The wallet is opened in another currency while the session is open.
	_, err = e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.EUR(100)})
	require.NoError(t, err)

	rcpt, err := e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptFailed, rcpt.Status)
	assert.True(t, strings.HasPrefix(rcpt.Message, tally.ReasonTopUpRejected), rcpt.Message)
	assert.Contains(t, rcpt.Message, "currency mismatch")
	assert.Equal(t, 1, rec.count("payment_failed"))

	got, err := e.GetInvoice(t.Context(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, got.Status)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, invoice.PaymentFailed, got.Payments[0].Status)
	assert.Equal(t, rcpt.Message, got.Payments[0].FailureReason)

	bal, err := e.Balance(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, types.EUR(100), bal)

	// The sweeper finds nothing left to resolve.
	clk.Advance(time.Hour)
	n, err := e.ExpirePendingPayments(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, verifies := gw.calls()
	rcpt, err = e.VerifyGatewayPayment(t.Context(), sess.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptFailed, rcpt.Status)
	_, after := gw.calls()
	assert.Equal(t, verifies, after, "answered from the store")
}

func TestGatewayNotConfigured(t *testing.T) {
	e := newEngine(t)
	inv := purchase(t, e, "u1", 600)

	_, err := e.CreateGatewayPaymentSession(t.Context(), inv.ID)
	assert.ErrorIs(t, err, tally.ErrGatewayNotConfigured)

	_, err = e.VerifyGatewayPayment(t.Context(), "nope")
	assert.ErrorIs(t, err, tally.ErrPaymentNotFound)
}
