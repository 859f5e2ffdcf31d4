// Package config loads the configuration of a Tally deployment from a YAML
// file, an optional .env file and TALLY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/tally"
	"github.com/xraph/tally/gateway/httpgateway"
	"github.com/xraph/tally/types"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Event drivers.
const (
	EventsNone     = ""
	EventsRabbitMQ = "rabbitmq"
	EventsKafka    = "kafka"
	EventsRedis    = "redis"
)

// Config holds the Tally configuration.
// Fields can be set programmatically or loaded from YAML configuration files
// (under "extensions.tally" or "tally" keys, or at the top level).
type Config struct {
	Store   StoreConfig   `json:"store" mapstructure:"store" yaml:"store"`
	Engine  EngineConfig  `json:"engine" mapstructure:"engine" yaml:"engine"`
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway" yaml:"gateway"`
	Events  EventsConfig  `json:"events" mapstructure:"events" yaml:"events"`
	Audit   AuditConfig   `json:"audit" mapstructure:"audit" yaml:"audit"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `json:"log" mapstructure:"log" yaml:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, postgres or sqlite (default: memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is the postgres connection string or the sqlite file path.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	// DefaultCurrency seeds the settings row on first start (default: usd).
	DefaultCurrency string `json:"default_currency" mapstructure:"default_currency" yaml:"default_currency"`

	// GatewaySessionTTL seeds the gateway session lifetime (default: 15m).
	GatewaySessionTTL time.Duration `json:"gateway_session_ttl" mapstructure:"gateway_session_ttl" yaml:"gateway_session_ttl"`

	// SweepInterval is how often expired gateway sessions are failed
	// (default: 1m). A negative value disables the sweeper.
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// MaxRetries bounds retries of conflicting transactions (default: 3).
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
}

// GatewayConfig configures the HTTP payment gateway. The gateway is disabled
// when BaseURL is empty.
type GatewayConfig = httpgateway.Config

// EventsConfig configures event publishing. Publishing is disabled when
// Driver is empty.
type EventsConfig struct {
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// URL is the AMQP URL for rabbitmq and the address for redis.
	URL string `json:"url" mapstructure:"url" yaml:"url"`

	// Brokers are the kafka bootstrap brokers.
	Brokers []string `json:"brokers" mapstructure:"brokers" yaml:"brokers"`

	// Destination is the rabbitmq exchange, kafka topic or redis channel.
	Destination string `json:"destination" mapstructure:"destination" yaml:"destination"`
}

// AuditConfig configures the MongoDB audit trail. It is disabled when
// MongoURI is empty.
type AuditConfig struct {
	MongoURI   string `json:"mongo_uri" mapstructure:"mongo_uri" yaml:"mongo_uri"`
	Database   string `json:"database" mapstructure:"database" yaml:"database"`
	Collection string `json:"collection" mapstructure:"collection" yaml:"collection"`
}

// MetricsConfig configures the Prometheus endpoint. It is disabled when
// Addr is empty.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr" yaml:"addr"`
	Path string `json:"path" mapstructure:"path" yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error (default: info).
	Level string `json:"level" mapstructure:"level" yaml:"level"`
	// Format is json or text (default: json).
	Format string `json:"format" mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Driver: DriverMemory},
		Engine: EngineConfig{
			DefaultCurrency:   "usd",
			GatewaySessionTTL: 15 * time.Minute,
			SweepInterval:     time.Minute,
			MaxRetries:        3,
		},
		Audit:   AuditConfig{Database: "tally", Collection: "audit_logs"},
		Metrics: MetricsConfig{Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty), then a .env file in the working directory
// (if present), then TALLY_* environment variables, in increasing order of
// precedence. Zero-valued fields take their defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		var err error
		cfg, err = LoadFile(path)
		if err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	cfg = mergeWithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile parses a YAML file. The configuration may sit under an
// "extensions.tally" or "tally" key, or at the top level.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (Config, error) {
	var doc struct {
		Extensions struct {
			Tally *Config `yaml:"tally"`
		} `yaml:"extensions"`
		Tally *Config `yaml:"tally"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	switch {
	case doc.Extensions.Tally != nil:
		return *doc.Extensions.Tally, nil
	case doc.Tally != nil:
		return *doc.Tally, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from TALLY_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("TALLY_STORE_DRIVER", &c.Store.Driver)
	str("TALLY_STORE_DSN", &c.Store.DSN)
	str("TALLY_DEFAULT_CURRENCY", &c.Engine.DefaultCurrency)
	dur("TALLY_GATEWAY_SESSION_TTL", &c.Engine.GatewaySessionTTL)
	dur("TALLY_SWEEP_INTERVAL", &c.Engine.SweepInterval)
	if v, ok := lookup("TALLY_MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: TALLY_MAX_RETRIES: %w", err))
		} else {
			c.Engine.MaxRetries = n
		}
	}

	str("TALLY_GATEWAY_NAME", &c.Gateway.Name)
	str("TALLY_GATEWAY_BASE_URL", &c.Gateway.BaseURL)
	str("TALLY_GATEWAY_API_KEY", &c.Gateway.APIKey)
	str("TALLY_GATEWAY_SECRET", &c.Gateway.Secret)
	dur("TALLY_GATEWAY_TIMEOUT", &c.Gateway.Timeout)

	str("TALLY_EVENTS_DRIVER", &c.Events.Driver)
	str("TALLY_EVENTS_URL", &c.Events.URL)
	str("TALLY_EVENTS_DESTINATION", &c.Events.Destination)
	if v, ok := lookup("TALLY_EVENTS_BROKERS"); ok && v != "" {
		c.Events.Brokers = strings.Split(v, ",")
	}

	str("TALLY_AUDIT_MONGO_URI", &c.Audit.MongoURI)
	str("TALLY_AUDIT_DATABASE", &c.Audit.Database)
	str("TALLY_AUDIT_COLLECTION", &c.Audit.Collection)

	str("TALLY_METRICS_ADDR", &c.Metrics.Addr)
	str("TALLY_METRICS_PATH", &c.Metrics.Path)

	str("TALLY_LOG_LEVEL", &c.Log.Level)
	str("TALLY_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// WithDefaults returns c with zero-valued fields set to their defaults and
// drivers and currency normalized, as Load does.
func (c Config) WithDefaults() Config { return mergeWithDefaults(c) }

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	if cfg.Engine.DefaultCurrency == "" {
		cfg.Engine.DefaultCurrency = defaults.Engine.DefaultCurrency
	}
	if cfg.Engine.GatewaySessionTTL == 0 {
		cfg.Engine.GatewaySessionTTL = defaults.Engine.GatewaySessionTTL
	}
	if cfg.Engine.SweepInterval == 0 {
		cfg.Engine.SweepInterval = defaults.Engine.SweepInterval
	}
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = defaults.Engine.MaxRetries
	}
	if cfg.Audit.Database == "" {
		cfg.Audit.Database = defaults.Audit.Database
	}
	if cfg.Audit.Collection == "" {
		cfg.Audit.Collection = defaults.Audit.Collection
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaults.Metrics.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	cfg.Events.Driver = strings.ToLower(cfg.Events.Driver)
	cfg.Engine.DefaultCurrency = types.NormalizeCurrency(cfg.Engine.DefaultCurrency)
	return cfg
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("config: store.dsn is required for the %s driver", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}

	if c.Engine.GatewaySessionTTL < 0 {
		errs = append(errs, errors.New("config: engine.gateway_session_ttl must not be negative"))
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, errors.New("config: engine.max_retries must not be negative"))
	}

	switch c.Events.Driver {
	case EventsNone:
	case EventsRabbitMQ, EventsRedis:
		if c.Events.URL == "" {
			errs = append(errs, fmt.Errorf("config: events.url is required for the %s driver", c.Events.Driver))
		}
	case EventsKafka:
		if len(c.Events.Brokers) == 0 || c.Events.Destination == "" {
			errs = append(errs, errors.New("config: events.brokers and events.destination are required for kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown events driver %q", c.Events.Driver))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("config: unknown log level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// GatewayEnabled reports whether an HTTP gateway is configured.
func (c Config) GatewayEnabled() bool { return c.Gateway.BaseURL != "" }

// EngineOptions returns the tally options the configuration implies. The
// gateway, plugins and logger are wired by the caller.
func (c Config) EngineOptions() []tally.Option {
	sweep := c.Engine.SweepInterval
	if sweep < 0 {
		sweep = 0
	}
	return []tally.Option{
		tally.WithDefaultCurrency(c.Engine.DefaultCurrency),
		tally.WithGatewaySessionTTL(c.Engine.GatewaySessionTTL),
		tally.WithSweepInterval(sweep),
		tally.WithMaxRetries(c.Engine.MaxRetries),
	}
}
