package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/observability"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/types"
)

func count(c observability.Counter) float64 {
	return testutil.ToFloat64(c.(prometheus.Counter))
}

func TestMetricsExtension(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	e := tally.New(memory.New(), tally.WithPlugin(metrics), tally.WithSweepInterval(0))
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(func() { _ = e.Stop() })

	_, err := e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(1000)})
	require.NoError(t, err)
	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID: "u1",
		Items: []invoice.LineItem{
			{Description: "widget", UnitPrice: types.USD(400), Quantity: decimal.NewFromInt(1)},
		},
	})
	require.NoError(t, err)
	_, err = e.SettleInvoiceWithWallet(t.Context(), inv.ID, "u1")
	require.NoError(t, err)

	assert.Equal(t, float64(1), count(metrics.WalletCredited))
	assert.Equal(t, float64(1), count(metrics.WalletDebited))
	assert.Equal(t, float64(1), count(metrics.InvoiceCreated))
	assert.Equal(t, float64(1), count(metrics.InvoicePaid))
	assert.Equal(t, float64(1), count(metrics.WalletPayments))
	assert.Equal(t, float64(0), count(metrics.GatewayPayments))

	n, err := testutil.GatherAndCount(reg, "tally_wallet_credited_total", "tally_invoice_grand_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	f := observability.NewPrometheusFactory(prometheus.NewRegistry())
	assert.Same(t, f.Counter("tally.wallet.credited"), f.Counter("tally.wallet.credited"))
	assert.Same(t, f.Histogram("tally.discount.amount"), f.Histogram("tally.discount.amount"))
}
