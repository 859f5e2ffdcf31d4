package tally

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/gateway"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// Tally is the billing ledger engine.
type Tally struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	gateway gateway.Client
	now     func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	maxRetries      int
	retryBackoff    time.Duration
	sweepInterval   time.Duration
	sweepBatchSize  int
	sessionTTL      time.Duration
	defaultCurrency string
}

// New creates a new Tally instance.
func New(s store.Store, opts ...Option) *Tally {
	t := &Tally{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		now:            time.Now,
		stopChan:       make(chan struct{}),
		maxRetries:     3,
		retryBackoff:   10 * time.Millisecond,
		sweepInterval:  time.Minute,
		sweepBatchSize: 100,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Option configures a Tally instance.
type Option func(*Tally)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tally) {
		t.logger = logger
		t.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(t *Tally) {
		_ = t.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithGateway sets the online payment gateway client.
func WithGateway(c gateway.Client) Option {
	return func(t *Tally) {
		t.gateway = c
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tally) {
		t.now = now
	}
}

// WithMaxRetries sets how many times a unit of work is retried after a
// concurrency conflict.
func WithMaxRetries(n int) Option {
	return func(t *Tally) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithSweepInterval sets how often expired gateway sessions are swept.
// Zero disables the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tally) {
		t.sweepInterval = d
	}
}

// WithGatewaySessionTTL sets the session lifetime stored in the settings
// row when it is first created.
func WithGatewaySessionTTL(d time.Duration) Option {
	return func(t *Tally) {
		t.sessionTTL = d
	}
}

// WithDefaultCurrency sets the default currency stored in the settings row
// when it is first created.
func WithDefaultCurrency(currency string) Option {
	return func(t *Tally) {
		t.defaultCurrency = types.NormalizeCurrency(currency)
	}
}

// Store returns the underlying store.
func (t *Tally) Store() store.Store { return t.store }

// Plugins returns the plugin registry.
func (t *Tally) Plugins() *plugin.Registry { return t.plugins }

// Start migrates the store and begins background workers.
func (t *Tally) Start(ctx context.Context) error {
	if err := t.store.Migrate(ctx); err != nil {
		return err
	}

	if _, err := t.Settings(ctx); err != nil {
		return err
	}

	t.plugins.EmitInit(ctx, t)

	if t.gateway != nil && t.sweepInterval > 0 {
		t.wg.Add(1)
		go t.sweepWorker(ctx)
	}

	t.logger.Info("tally started",
		"plugins", t.plugins.Count(),
		"gateway", t.gatewayName(),
		"sweep_interval", t.sweepInterval,
		"max_retries", t.maxRetries,
	)

	return nil
}

// Stop shuts down Tally and closes the store.
func (t *Tally) Stop() error {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()

	ctx := context.Background()
	t.plugins.EmitShutdown(ctx)

	return t.store.Close()
}

// ──────────────────────────────────────────────────
// Unit of work
// ──────────────────────────────────────────────────

// runInTx runs fn in a store transaction, retrying on concurrency conflicts.
// fn must be safe to run more than once.
func (t *Tally) runInTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = t.store.RunInTx(ctx, fn)
		if err == nil || !errs.IsRetryable(err) || attempt >= t.maxRetries {
			break
		}

		t.logger.Debug("retrying unit of work",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)

		timer := time.NewTimer(t.retryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// loadSettings reads the settings row, creating it on first access.
func (t *Tally) loadSettings(ctx context.Context, tx store.Tx) (*settings.Settings, error) {
	s, err := tx.GetSettings(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, errs.ErrSettingsNotFound) {
		return nil, err
	}

	s = settings.Default(t.now())
	if t.defaultCurrency != "" {
		s.DefaultCurrency = t.defaultCurrency
	}
	if t.sessionTTL > 0 {
		s.GatewaySessionTTL = t.sessionTTL
	}
	if t.gateway != nil {
		s.GatewayName = t.gateway.Name()
	}
	if err := tx.SaveSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ──────────────────────────────────────────────────
// Background workers
// ──────────────────────────────────────────────────

func (t *Tally) sweepWorker(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.ExpirePendingPayments(ctx)
			if err != nil {
				t.logger.Error("gateway sweep failed", "error", err)
				continue
			}
			if n > 0 {
				t.logger.Info("gateway sweep resolved payments", "count", n)
			}
		}
	}
}

func (t *Tally) gatewayName() string {
	if t.gateway == nil {
		return ""
	}
	return t.gateway.Name()
}
