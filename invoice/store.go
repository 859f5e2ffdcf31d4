package invoice

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

// Store persists invoices and their payments. Get and Lock variants load the
// invoice together with its payments.
type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)
	LockInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	ListInvoices(ctx context.Context, opts ListOpts) ([]*Invoice, error)

	CreatePayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	GetPaymentByReference(ctx context.Context, reference string) (*Payment, error)
	GetPaymentByGatewayReference(ctx context.Context, gatewayReference string) (*Payment, error)
	ListExpiredPayments(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}

// ListOpts filters invoice listings.
type ListOpts struct {
	UserID string
	Status Status
	Kind   Kind
	Limit  int
	Offset int
}
