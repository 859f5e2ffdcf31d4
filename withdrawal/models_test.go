package withdrawal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/withdrawal"
)

var at = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newRequest() *withdrawal.Request {
	return &withdrawal.Request{
		ID:            id.NewWithdrawalID(),
		RequesterID:   "seller-1",
		RequesterType: withdrawal.RequesterSeller,
		Amount:        types.USD(2500),
		Destination:   withdrawal.Destination{Type: withdrawal.DestinationIBAN, Value: "DE89370400440532013000"},
		Status:        withdrawal.StatusPending,
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, newRequest().Validate())

	r := newRequest()
	r.Amount = types.USD(0)
	r.Destination = withdrawal.Destination{}
	err := r.Validate()
	assert.True(t, errs.IsValidation(err))
}

func TestLifecycle(t *testing.T) {
	r := newRequest()
	require.NoError(t, r.Approve(at, "admin", "verified"))
	assert.Equal(t, withdrawal.StatusApproved, r.Status)
	assert.Equal(t, "admin", r.ReviewedBy)
	assert.Equal(t, "verified", r.AdminNotes)

	assert.ErrorIs(t, r.Approve(at, "admin", ""), errs.ErrInvalidTransition)

	txID := id.NewWalletTxID()
	require.NoError(t, r.MarkProcessed(txID, "PO-1", at, "admin"))
	assert.Equal(t, withdrawal.StatusProcessed, r.Status)
	assert.Equal(t, txID.String(), r.WalletTransactionID.String())
	require.NotNil(t, r.ProcessedAt)

	assert.ErrorIs(t, r.Reject(at, "admin", ""), errs.ErrInvalidTransition)
	assert.ErrorIs(t, r.Cancel(at, "seller-1"), errs.ErrInvalidTransition)
}

func TestProcessRequiresApproval(t *testing.T) {
	r := newRequest()
	err := r.MarkProcessed(id.NewWalletTxID(), "PO-1", at, "admin")
	assert.ErrorIs(t, err, errs.ErrWithdrawalNotReady)
	assert.Equal(t, withdrawal.StatusPending, r.Status)
}

func TestRejectAndCancel(t *testing.T) {
	tests := []struct {
		name    string
		from    withdrawal.Status
		act     func(r *withdrawal.Request) error
		want    withdrawal.Status
		wantErr bool
	}{
		{"reject pending", withdrawal.StatusPending, func(r *withdrawal.Request) error { return r.Reject(at, "admin", "no kyc") }, withdrawal.StatusRejected, false},
		{"reject approved", withdrawal.StatusApproved, func(r *withdrawal.Request) error { return r.Reject(at, "admin", "") }, withdrawal.StatusRejected, false},
		{"cancel pending", withdrawal.StatusPending, func(r *withdrawal.Request) error { return r.Cancel(at, "seller-1") }, withdrawal.StatusCancelled, false},
		{"cancel approved", withdrawal.StatusApproved, func(r *withdrawal.Request) error { return r.Cancel(at, "seller-1") }, withdrawal.StatusCancelled, false},
		{"cancel rejected", withdrawal.StatusRejected, func(r *withdrawal.Request) error { return r.Cancel(at, "seller-1") }, withdrawal.StatusRejected, true},
		{"reject cancelled", withdrawal.StatusCancelled, func(r *withdrawal.Request) error { return r.Reject(at, "admin", "") }, withdrawal.StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest()
			r.Status = tt.from
			err := tt.act(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, r.Status)
		})
	}
}
