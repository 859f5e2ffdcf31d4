package discount

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists discount codes with their group configurations.
type Store interface {
	CreateDiscountCode(ctx context.Context, c *Code) error
	GetDiscountCode(ctx context.Context, code string) (*Code, error)
	GetDiscountCodeByID(ctx context.Context, codeID id.DiscountID) (*Code, error)
	LockDiscountCode(ctx context.Context, code string) (*Code, error)
	UpdateDiscountCode(ctx context.Context, c *Code) error
	ListDiscountCodes(ctx context.Context, opts ListOpts) ([]*Code, error)
}

// ListOpts filters discount code listings.
type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
