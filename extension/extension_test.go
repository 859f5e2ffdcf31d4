package extension_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/forge"

	"github.com/xraph/tally"
	"github.com/xraph/tally/config"
	"github.com/xraph/tally/extension"
	"github.com/xraph/tally/store/memory"
)

func newApp() forge.App {
	return forge.NewApp(forge.AppConfig{
		Name:        "tally-test",
		Version:     "1.0.0",
		Environment: "test",
	})
}

func TestExtensionLifecycle(t *testing.T) {
	ctx := t.Context()
	app := newApp()

	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithDefaultCurrency("EUR"),
		extension.WithSweepInterval(-1),
	)
	assert.Equal(t, extension.ExtensionName, ext.Name())
	assert.Nil(t, ext.Engine())

	require.NoError(t, ext.Register(app))
	require.NotNil(t, ext.Engine())
	assert.Equal(t, "eur", ext.Config().Engine.DefaultCurrency)

	resolved, err := forge.InjectType[*tally.Tally](app.Container())
	require.NoError(t, err)
	assert.Same(t, ext.Engine(), resolved)

	require.NoError(t, ext.Start(ctx))
	assert.True(t, ext.IsStarted())
	require.NoError(t, ext.Health(ctx))

	s, err := ext.Engine().Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "eur", s.DefaultCurrency)

	require.NoError(t, ext.Stop(ctx))
	assert.False(t, ext.IsStarted())
}

func TestExtensionOpensConfiguredStore(t *testing.T) {
	ctx := t.Context()

	cfg := config.Config{Store: config.StoreConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "tally.db"),
	}}
	ext := extension.New(extension.WithConfig(cfg))

	require.NoError(t, ext.Register(newApp()))
	require.NoError(t, ext.Start(ctx))
	require.NoError(t, ext.Health(ctx))
	require.NoError(t, ext.Stop(ctx))
}

func TestExtensionRejectsInvalidConfig(t *testing.T) {
	ext := extension.New(extension.WithConfig(config.Config{
		Store: config.StoreConfig{Driver: config.DriverPostgres},
	}))

	err := ext.Register(newApp())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
	assert.Nil(t, ext.Engine())
}

func TestExtensionRequireConfig(t *testing.T) {
	ext := extension.New(extension.WithRequireConfig(true))

	err := ext.Register(newApp())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extensions.tally")
}

func TestExtensionNotRegistered(t *testing.T) {
	ext := extension.New()

	assert.Error(t, ext.Start(t.Context()))
	assert.Error(t, ext.Health(t.Context()))
	assert.NoError(t, ext.Stop(t.Context()))
}

func TestOpenStore(t *testing.T) {
	ctx := t.Context()

	s, err := extension.OpenStore(ctx, config.StoreConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	_, err = extension.OpenStore(ctx, config.StoreConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestExtensionPassThroughOptions(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithTallyOption(tally.WithClock(func() time.Time { return fixed })),
	)
	require.NoError(t, ext.Register(newApp()))
	require.NoError(t, ext.Start(t.Context()))
	defer ext.Stop(t.Context())

	s, err := ext.Engine().Settings(t.Context())
	require.NoError(t, err)
	assert.Equal(t, fixed, s.CreatedAt.UTC())
}
