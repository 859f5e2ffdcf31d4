package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"extensions", "extensions:\n  tally:\n    store:\n      driver: sqlite\n      dsn: tally.db\n"},
		{"tally", "tally:\n  store:\n    driver: sqlite\n    dsn: tally.db\n"},
		{"top-level", "store:\n  driver: sqlite\n  dsn: tally.db\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, DriverSQLite, cfg.Store.Driver)
			assert.Equal(t, "tally.db", cfg.Store.DSN)
		})
	}
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  default_currency: EUR
  gateway_session_ttl: 30m
  sweep_interval: 10s
gateway:
  name: paystack
  base_url: https://pay.example.com
  timeout: 5s
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Engine.GatewaySessionTTL)
	assert.Equal(t, 10*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.True(t, cfg.GatewayEnabled())

	cfg = mergeWithDefaults(cfg)
	assert.Equal(t, "eur", cfg.Engine.DefaultCurrency)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("store: [unclosed"))
	assert.Error(t, err)
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{})
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.GatewayEnabled())
	assert.Len(t, cfg.EngineOptions(), 4)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TALLY_STORE_DRIVER":        "postgres",
		"TALLY_STORE_DSN":           "postgres://localhost/tally",
		"TALLY_GATEWAY_SESSION_TTL": "45m",
		"TALLY_MAX_RETRIES":         "7",
		"TALLY_EVENTS_DRIVER":       "kafka",
		"TALLY_EVENTS_BROKERS":      "k1:9092,k2:9092",
		"TALLY_EVENTS_DESTINATION":  "tally-events",
		"TALLY_LOG_LEVEL":           "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Config{Store: StoreConfig{Driver: DriverSQLite, DSN: "file.db"}}
	require.NoError(t, cfg.applyEnv(lookup))
	cfg = mergeWithDefaults(cfg)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tally", cfg.Store.DSN)
	assert.Equal(t, 45*time.Minute, cfg.Engine.GatewaySessionTTL)
	assert.Equal(t, 7, cfg.Engine.MaxRetries)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvBadValues(t *testing.T) {
	env := map[string]string{
		"TALLY_SWEEP_INTERVAL": "soon",
		"TALLY_MAX_RETRIES":    "many",
	}
	cfg := Config{}
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TALLY_SWEEP_INTERVAL")
	assert.Contains(t, err.Error(), "TALLY_MAX_RETRIES")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"negative ttl", func(c *Config) { c.Engine.GatewaySessionTTL = -time.Second }},
		{"rabbitmq without url", func(c *Config) { c.Events.Driver = EventsRabbitMQ }},
		{"kafka without brokers", func(c *Config) { c.Events.Driver = EventsKafka }},
		{"unknown events", func(c *Config) { c.Events.Driver = "nats" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tally.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tally:\n  metrics:\n    addr: \":9090\"\n"), 0o600))
	t.Setenv("TALLY_LOG_FORMAT", "text")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
