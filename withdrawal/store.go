package withdrawal

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists withdrawal requests.
type Store interface {
	CreateWithdrawal(ctx context.Context, r *Request) error
	GetWithdrawal(ctx context.Context, reqID id.WithdrawalID) (*Request, error)
	LockWithdrawal(ctx context.Context, reqID id.WithdrawalID) (*Request, error)
	UpdateWithdrawal(ctx context.Context, r *Request) error
	ListWithdrawals(ctx context.Context, opts ListOpts) ([]*Request, error)
}

// ListOpts filters withdrawal listings.
type ListOpts struct {
	RequesterID string
	Status      Status
	Limit       int
	Offset      int
}
