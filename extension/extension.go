// Package extension provides the Forge extension adapter for Tally.
//
// It implements the forge.Extension interface to integrate Tally into a
// Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions or via
// YAML configuration files under "extensions.tally" or "tally" keys. Both
// decode into config.Config.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/tally"
	"github.com/xraph/tally/config"
	"github.com/xraph/tally/gateway/httpgateway"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/store/postgres"
	"github.com/xraph/tally/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tally"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Wallet, invoice and settlement ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Tally as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config        config.Config
	requireConfig bool
	engine        *tally.Tally
	store         store.Store
	logger        *slog.Logger
	tallyOpts     []tally.Option
}

// New creates a new Tally Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Tally instance.
// This is nil until Register is called.
func (e *Extension) Engine() *tally.Tally { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() config.Config { return e.config }

// Register implements [forge.Extension]. It loads configuration, opens the
// configured store unless one was supplied, builds the engine and registers
// it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := OpenStore(context.Background(), e.config.Store)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = tally.New(e.store, e.buildTallyOpts()...)

	return vessel.Provide(fapp.Container(), func() (*tally.Tally, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension]. It migrates the store, seeds the
// settings row and starts the gateway sweeper.
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tally: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tally: store not initialized")
	}
	return e.store.Ping(ctx)
}

// OpenStore opens the backend cfg names. The memory driver needs no DSN.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.DriverMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("tally: unknown store driver %q", cfg.Driver)
	}
}

// buildTallyOpts constructs tally.Option values from the resolved config.
// Pass-through options come last so they win.
func (e *Extension) buildTallyOpts() []tally.Option {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(e.config.EngineOptions(), tally.WithLogger(logger))
	if e.config.GatewayEnabled() {
		opts = append(opts, tally.WithGateway(httpgateway.New(e.config.Gateway, logger)))
	}
	return append(opts, e.tallyOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if e.requireConfig {
			return errors.New("tally: configuration is required but not found in config files; " +
				"ensure 'extensions.tally' or 'tally' key exists in your config")
		}
		e.config = e.config.WithDefaults()
	} else {
		e.config = mergeConfigurations(fileConfig, e.config)
	}

	if err := e.config.Validate(); err != nil {
		return fmt.Errorf("tally: %w", err)
	}

	e.Logger().Debug("tally: configuration loaded",
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("default_currency", e.config.Engine.DefaultCurrency),
		forge.F("sweep_interval", e.config.Engine.SweepInterval),
		forge.F("max_retries", e.config.Engine.MaxRetries),
		forge.F("gateway", e.config.GatewayEnabled()),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (config.Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.tally", "tally"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg config.Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("tally: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("tally: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return config.Config{}, false
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmatic config.Config) config.Config {
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmatic.Store
	}
	if yamlConfig.Engine.DefaultCurrency == "" {
		yamlConfig.Engine.DefaultCurrency = programmatic.Engine.DefaultCurrency
	}
	if yamlConfig.Engine.GatewaySessionTTL == 0 {
		yamlConfig.Engine.GatewaySessionTTL = programmatic.Engine.GatewaySessionTTL
	}
	if yamlConfig.Engine.SweepInterval == 0 {
		yamlConfig.Engine.SweepInterval = programmatic.Engine.SweepInterval
	}
	if yamlConfig.Engine.MaxRetries == 0 {
		yamlConfig.Engine.MaxRetries = programmatic.Engine.MaxRetries
	}
	if yamlConfig.Gateway.BaseURL == "" {
		yamlConfig.Gateway = programmatic.Gateway
	}

	return yamlConfig.WithDefaults()
}
