package tally_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/types"
)

func ptr[T any](v T) *T { return &v }

func createCode(t *testing.T, e *tally.Tally, c *discount.Code) *discount.Code {
	t.Helper()
	require.NoError(t, e.CreateDiscountCode(t.Context(), c))
	return c
}

func halfOffCapped() *discount.Code {
	return &discount.Code{
		Code:        "half50",
		Type:        discount.TypePercentage,
		Value:       decimal.NewFromInt(50),
		Currency:    "USD",
		MaxDiscount: ptr(types.USD(1000)),
		Active:      true,
	}
}

func TestCreateDiscountCode(t *testing.T) {
	e := newEngine(t)
	c := halfOffCapped()
	c.Redemptions = 99
	createCode(t, e, c)

	got, err := e.GetDiscountCode(t.Context(), " Half50 ")
	require.NoError(t, err)
	assert.Equal(t, "HALF50", got.Code)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, int64(0), got.Redemptions, "counters start at zero")
	assert.False(t, got.StartsAt.IsZero())

	err = e.CreateDiscountCode(t.Context(), halfOffCapped())
	assert.ErrorIs(t, err, tally.ErrAlreadyExists)

	bad := halfOffCapped()
	bad.Code = "BAD"
	bad.Value = decimal.NewFromInt(150)
	assert.ErrorIs(t, e.CreateDiscountCode(t.Context(), bad), tally.ErrInvalidInput)

	codes, err := e.ListDiscountCodes(t.Context(), discount.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestPreviewDoesNotRedeem(t *testing.T) {
	e := newEngine(t)
	createCode(t, e, halfOffCapped())

	res, err := e.PreviewDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(5000)})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Discount.Amount)
	assert.True(t, res.WasCapped)
	assert.Equal(t, int64(4000), res.FinalPrice.Amount)

	got, err := e.GetDiscountCode(t.Context(), "HALF50")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Redemptions)
}

func TestApplyDiscountCountsRedemptions(t *testing.T) {
	rec := newRecorder()
	e := newEngine(t, tally.WithPlugin(rec))
	c := halfOffCapped()
	c.UsageLimit = ptr(int64(2))
	c.Groups = []discount.GroupConfiguration{{
		Key:         "vip",
		Value:       ptr(decimal.NewFromInt(20)),
		MaxDiscount: ptr(types.USD(500)),
		UsageLimit:  ptr(int64(1)),
	}}
	createCode(t, e, c)

	res, err := e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(10000), AudienceKey: "vip"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Discount.Amount)
	assert.Equal(t, 1, rec.count("discount_applied"))

	_, err = e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(10000), AudienceKey: "vip"})
	assert.ErrorIs(t, err, tally.ErrGroupLimitReached)

	_, err = e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(1000)})
	require.NoError(t, err)

	_, err = e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(1000)})
	assert.ErrorIs(t, err, tally.ErrGlobalLimitReached)

	got, err := e.GetDiscountCode(t.Context(), "HALF50")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Redemptions)
	assert.Equal(t, int64(1), got.Group("vip").Redemptions)
}

func TestApplyDiscountAvailability(t *testing.T) {
	clk := newClock()
	e := newEngine(t, tally.WithClock(clk.Now))

	future := halfOffCapped()
	future.Code = "SOON"
	future.StartsAt = epoch.Add(24 * time.Hour)
	createCode(t, e, future)

	inactive := halfOffCapped()
	inactive.Code = "OFF"
	inactive.Active = false
	createCode(t, e, inactive)

	ends := epoch.Add(time.Hour)
	expiring := halfOffCapped()
	expiring.Code = "BRIEF"
	expiring.EndsAt = &ends
	createCode(t, e, expiring)

	_, err := e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "SOON", Price: types.USD(100)})
	assert.ErrorIs(t, err, tally.ErrCodeNotYetValid)
	_, err = e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "OFF", Price: types.USD(100)})
	assert.ErrorIs(t, err, tally.ErrCodeInactive)

	clk.Advance(2 * time.Hour)
	_, err = e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "BRIEF", Price: types.USD(100)})
	assert.ErrorIs(t, err, tally.ErrCodeExpired)

	_, err = e.PreviewDiscount(t.Context(), tally.DiscountQuery{Code: "MISSING", Price: types.USD(100)})
	assert.ErrorIs(t, err, tally.ErrDiscountNotFound)
}

func TestInvoiceWithDiscount(t *testing.T) {
	rec := newRecorder()
	e := newEngine(t, tally.WithPlugin(rec))
	createCode(t, e, halfOffCapped())

	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID:       "u1",
		Items:        []invoice.LineItem{lineItem(5000)},
		DiscountCode: "half50",
	})
	require.NoError(t, err)
	assert.Equal(t, "HALF50", inv.DiscountCode)
	assert.Equal(t, int64(1000), inv.DiscountAmount.Amount)
	assert.Equal(t, int64(-1000), inv.Adjustment.Amount)
	assert.Equal(t, int64(4000), inv.GrandTotal.Amount)
	assert.Equal(t, 1, rec.count("discount_applied"))

	got, err := e.GetDiscountCode(t.Context(), "HALF50")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Redemptions)
}

func TestInvoiceDiscountRejectedLeavesNoTrace(t *testing.T) {
	e := newEngine(t)
	c := halfOffCapped()
	c.MinimumOrder = ptr(types.USD(10000))
	createCode(t, e, c)

	_, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID:       "u1",
		Items:        []invoice.LineItem{lineItem(5000)},
		DiscountCode: "HALF50",
	})
	assert.ErrorIs(t, err, tally.ErrBelowMinimumOrder)

	got, err := e.GetDiscountCode(t.Context(), "HALF50")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Redemptions)

	invs, err := e.ListInvoices(t.Context(), invoice.ListOpts{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, invs)
}

func TestFullyDiscountedInvoiceIsPaid(t *testing.T) {
	e := newEngine(t)
	createCode(t, e, &discount.Code{
		Code:     "FREE",
		Type:     discount.TypeFixedAmount,
		Value:    decimal.NewFromInt(100),
		Currency: "usd",
		Active:   true,
	})

	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID:       "u1",
		Items:        []invoice.LineItem{lineItem(2500)},
		DiscountCode: "FREE",
	})
	require.NoError(t, err)
	assert.True(t, inv.GrandTotal.IsZero())
	assert.Equal(t, invoice.StatusPaid, inv.Status)
}

func TestUpdateDiscountCodePreservesCounters(t *testing.T) {
	e := newEngine(t)
	createCode(t, e, halfOffCapped())
	_, err := e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(100)})
	require.NoError(t, err)

	c, err := e.UpdateDiscountCode(t.Context(), "HALF50", func(c *discount.Code) error {
		c.Description = "spring sale"
		c.Redemptions = 0
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "spring sale", c.Description)
	assert.Equal(t, int64(1), c.Redemptions)

	_, err = e.UpdateDiscountCode(t.Context(), "HALF50", func(c *discount.Code) error {
		c.UsageLimit = ptr(int64(0))
		return nil
	})
	assert.ErrorIs(t, err, tally.ErrInvalidInput, "limit below redemptions")
}

func TestApplyDiscountAtKeepsAuditTime(t *testing.T) {
	clk := newClock()
	e := newEngine(t, tally.WithClock(clk.Now))

	soon := halfOffCapped()
	soon.StartsAt = epoch.Add(24 * time.Hour)
	createCode(t, e, soon)

	evalAt := epoch.Add(48 * time.Hour)
	res, err := e.ApplyDiscount(t.Context(), tally.DiscountQuery{Code: "HALF50", Price: types.USD(1000), At: evalAt})
	require.NoError(t, err, "evaluated at the requested time")
	assert.Equal(t, int64(500), res.Discount.Amount)

	got, err := e.GetDiscountCode(t.Context(), "HALF50")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Redemptions)
	assert.Equal(t, epoch, got.UpdatedAt.UTC(), "stamped with the engine clock")
}
