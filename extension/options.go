package extension

import (
	"log/slog"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/config"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// Option configures the Tally Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. The configured store driver is
// ignored when a store is supplied.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithTallyOption passes a tally.Option through to the underlying engine.
func WithTallyOption(opt tally.Option) Option {
	return func(e *Extension) {
		e.tallyOpts = append(e.tallyOpts, opt)
	}
}

// WithPlugin registers a tally plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.tallyOpts = append(e.tallyOpts, tally.WithPlugin(p))
	}
}

// WithConfig sets the extension configuration.
func WithConfig(cfg config.Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithLogger sets the engine and gateway logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.requireConfig = require }
}

// WithDefaultCurrency sets the currency the settings row is seeded with.
func WithDefaultCurrency(currency string) Option {
	return func(e *Extension) { e.config.Engine.DefaultCurrency = currency }
}

// WithSweepInterval sets how often expired gateway sessions are failed.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.Engine.SweepInterval = d }
}
