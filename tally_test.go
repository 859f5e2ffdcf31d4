package tally_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/tally"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/gateway"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/store/postgres"
	"github.com/xraph/tally/store/sqlite"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: epoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngine(t *testing.T, opts ...tally.Option) *tally.Tally {
	t.Helper()
	return newEngineOn(t, memory.New(), opts...)
}

func newEngineOn(t *testing.T, s store.Store, opts ...tally.Option) *tally.Tally {
	t.Helper()
	opts = append([]tally.Option{tally.WithSweepInterval(0)}, opts...)
	e := tally.New(s, opts...)
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

// backend opens an empty store. Tests that exercise locking run against
// every backend; postgres needs TALLY_POSTGRES_DSN.
type backend struct {
	name string
	open func(t *testing.T) store.Store
}

var backends = []backend{
	{"memory", func(*testing.T) store.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) store.Store {
		s, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "tally.db"))
		require.NoError(t, err)
		return s
	}},
	{"postgres", func(t *testing.T) store.Store {
		dsn := os.Getenv("TALLY_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("TALLY_POSTGRES_DSN not set")
		}
		s, err := postgres.Open(t.Context(), dsn)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(t.Context()))
		_, err = pgdriver.Unwrap(s.DB()).NewRaw(`TRUNCATE tally_wallet_transactions, tally_payments, tally_wallets,
tally_invoices, tally_discount_codes, tally_withdrawals, tally_settings`).Exec(t.Context())
		require.NoError(t, err)
		return s
	}},
}

// forEachBackend runs fn against a fresh engine on every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, e *tally.Tally), opts ...tally.Option) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newEngineOn(t, b.open(t), opts...))
		})
	}
}

func lineItem(unit int64) invoice.LineItem {
	return invoice.LineItem{
		Description: "widget",
		UnitPrice:   types.USD(unit),
		Quantity:    decimal.NewFromInt(1),
	}
}

func fund(t *testing.T, e *tally.Tally, userID string, amount int64) {
	t.Helper()
	_, err := e.CreditWallet(t.Context(), tally.CreditRequest{UserID: userID, Amount: types.USD(amount)})
	require.NoError(t, err)
}

func purchase(t *testing.T, e *tally.Tally, userID string, amount int64) *invoice.Invoice {
	t.Helper()
	inv, err := e.CreateInvoice(t.Context(), tally.InvoiceRequest{
		UserID: userID,
		Items:  []invoice.LineItem{lineItem(amount)},
	})
	require.NoError(t, err)
	return inv
}

func balance(t *testing.T, e *tally.Tally, userID string) int64 {
	t.Helper()
	bal, err := e.Balance(t.Context(), userID)
	require.NoError(t, err)
	return bal.Amount
}

// fakeGateway is an in-process gateway.Client.
type fakeGateway struct {
	mu          sync.Mutex
	sessions    map[string]*gateway.Receipt
	createErr   error
	verifyErr   error
	creates     int
	verifies    int
	nextSession int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*gateway.Receipt)}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextSession++
	ref := fmt.Sprintf("sess-%d", g.nextSession)
	g.sessions[ref] = &gateway.Receipt{GatewayReference: ref, Status: gateway.ReceiptPending, Amount: req.Amount}
	return &gateway.Session{
		GatewayReference: ref,
		PaymentURL:       "https://pay.example.com/" + ref,
		ExpiresAt:        req.ExpiresAt,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, ref string) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	r, ok := g.sessions[ref]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", ref)
	}
	cp := *r
	return &cp, nil
}

func (g *fakeGateway) resolve(ref string, status gateway.ReceiptStatus, tracking string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[ref].Status = status
	g.sessions[ref].TrackingCode = tracking
}

func (g *fakeGateway) calls() (creates, verifies int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.verifies
}

// recorder counts plugin events by hook name.
type recorder struct {
	mu     sync.Mutex
	events map[string]int
}

func newRecorder() *recorder { return &recorder{events: make(map[string]int)} }

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(hook string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[hook]++
	return nil
}

func (r *recorder) count(hook string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[hook]
}

func (r *recorder) OnInit(context.Context, any) error { return r.add("init") }
func (r *recorder) OnShutdown(context.Context) error  { return r.add("shutdown") }
func (r *recorder) OnWalletCredited(context.Context, *wallet.Transaction) error {
	return r.add("wallet_credited")
}
func (r *recorder) OnWalletDebited(context.Context, *wallet.Transaction) error {
	return r.add("wallet_debited")
}
func (r *recorder) OnInvoiceCreated(context.Context, *invoice.Invoice) error {
	return r.add("invoice_created")
}
func (r *recorder) OnInvoicePaid(context.Context, *invoice.Invoice) error {
	return r.add("invoice_paid")
}
func (r *recorder) OnPaymentSucceeded(context.Context, *invoice.Invoice, *invoice.Payment) error {
	return r.add("payment_succeeded")
}
func (r *recorder) OnPaymentFailed(context.Context, *invoice.Invoice, *invoice.Payment) error {
	return r.add("payment_failed")
}
func (r *recorder) OnDiscountApplied(context.Context, *discount.Result) error {
	return r.add("discount_applied")
}
func (r *recorder) OnWithdrawalProcessed(context.Context, *withdrawal.Request, *wallet.Transaction) error {
	return r.add("withdrawal_processed")
}

// ──────────────────────────────────────────────────
// Engine
// ──────────────────────────────────────────────────

func TestLifecycleHooks(t *testing.T) {
	rec := newRecorder()
	e := tally.New(memory.New(), tally.WithPlugin(rec), tally.WithSweepInterval(0))
	require.NoError(t, e.Start(t.Context()))
	assert.Equal(t, 1, rec.count("init"))
	assert.Equal(t, 1, e.Plugins().Count())

	require.NoError(t, e.Stop())
	assert.Equal(t, 1, rec.count("shutdown"))
}

func TestEndToEndEvents(t *testing.T) {
	rec := newRecorder()
	e := newEngine(t, tally.WithPlugin(rec))

	fund(t, e, "u1", 1000)
	inv := purchase(t, e, "u1", 600)
	_, err := e.SettleInvoiceWithWallet(t.Context(), inv.ID, "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count("wallet_credited"))
	assert.Equal(t, 1, rec.count("invoice_created"))
	assert.Equal(t, 1, rec.count("wallet_debited"))
	assert.Equal(t, 1, rec.count("payment_succeeded"))
	assert.Equal(t, 1, rec.count("invoice_paid"))

	// Replays emit nothing.
	_, err = e.SettleInvoiceWithWallet(t.Context(), inv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count("wallet_debited"))
}

func TestSettingsDefaults(t *testing.T) {
	e := newEngine(t, tally.WithDefaultCurrency("EUR"), tally.WithGatewaySessionTTL(time.Hour))

	s, err := e.Settings(t.Context())
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultID, s.ID)
	assert.Equal(t, "eur", s.DefaultCurrency)
	assert.Equal(t, time.Hour, s.GatewaySessionTTL)
	assert.Equal(t, int64(1000), s.MinimumWithdrawal)

	// Credits without a currency use the default.
	tx, err := e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.Money{Amount: 500}})
	require.NoError(t, err)
	assert.Equal(t, "eur", tx.Amount.Currency)
}

func TestUpdateSettings(t *testing.T) {
	e := newEngine(t)
	ctx := tally.WithActor(t.Context(), "admin-1", "10.0.0.1")

	s, err := e.UpdateSettings(ctx, func(s *settings.Settings) error {
		s.MinimumWithdrawal = 5000
		s.DefaultCurrency = "GBP"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "gbp", s.DefaultCurrency)
	assert.Equal(t, "admin-1", s.UpdatedBy)

	_, err = e.UpdateSettings(t.Context(), func(s *settings.Settings) error {
		s.GatewaySessionTTL = 0
		return nil
	})
	assert.ErrorIs(t, err, tally.ErrInvalidInput)

	got, err := e.Settings(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.MinimumWithdrawal)
}

func TestAuditContextStampsMutations(t *testing.T) {
	clk := newClock()
	e := newEngine(t, tally.WithClock(clk.Now))

	ctx := tally.WithActor(t.Context(), "cashier-7", "192.0.2.10")
	tx, err := e.CreditWallet(ctx, tally.CreditRequest{UserID: "u1", Amount: types.USD(100)})
	require.NoError(t, err)
	assert.Equal(t, "cashier-7", tx.CreatedBy)
	assert.Equal(t, "192.0.2.10", tx.SourceIP)
	assert.True(t, tx.CreatedAt.Equal(epoch))

	stamp := epoch.Add(-time.Hour)
	ctx = tally.WithAuditContext(t.Context(), tally.AuditContext{ActorID: "batch", Timestamp: stamp})
	tx, err = e.CreditWallet(ctx, tally.CreditRequest{UserID: "u1", Amount: types.USD(100)})
	require.NoError(t, err)
	assert.True(t, tx.CreatedAt.Equal(stamp))

	tx, err = e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(100)})
	require.NoError(t, err)
	assert.Equal(t, tally.SystemActor, tx.CreatedBy)
}

func TestSweepWorkerStops(t *testing.T) {
	gw := newFakeGateway()
	e := tally.New(memory.New(), tally.WithGateway(gw), tally.WithSweepInterval(5*time.Millisecond))
	require.NoError(t, e.Start(t.Context()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Stop())
}
