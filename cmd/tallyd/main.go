// Command tallyd runs the Tally billing ledger engine with the store, gateway,
// audit trail, event publisher and metrics endpoint named in its config.
//
// Usage:
//
//	tallyd [-config tally.yaml] [serve|migrate]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/tally"
	audithook "github.com/xraph/tally/audit_hook"
	auditmongo "github.com/xraph/tally/audit_hook/mongo"
	"github.com/xraph/tally/config"
	"github.com/xraph/tally/events"
	"github.com/xraph/tally/events/kafka"
	"github.com/xraph/tally/events/rabbitmq"
	"github.com/xraph/tally/events/redis"
	"github.com/xraph/tally/extension"
	"github.com/xraph/tally/gateway/httpgateway"
	"github.com/xraph/tally/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("TALLY_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cmd := "serve"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tallyd:", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown command %q (want serve or migrate)", cmd)
	}
	if err != nil {
		logger.Error("tallyd failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", "tallyd")
}

func migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	s, err := extension.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("migrations applied", "driver", cfg.Store.Driver)
	return nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	s, err := extension.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	opts := append(cfg.EngineOptions(), tally.WithLogger(logger))

	if cfg.GatewayEnabled() {
		opts = append(opts, tally.WithGateway(httpgateway.New(cfg.Gateway, logger)))
	}

	if cfg.Audit.MongoURI != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Audit.MongoURI))
		if err != nil {
			_ = s.Close()
			return fmt.Errorf("connect audit mongo: %w", err)
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				logger.Warn("disconnect audit mongo", "error", err)
			}
		}()

		rec := auditmongo.NewRecorderWithCollection(client.Database(cfg.Audit.Database), cfg.Audit.Collection)
		opts = append(opts, tally.WithPlugin(audithook.New(rec, audithook.WithLogger(logger))))
	}

	pub, err := openPublisher(cfg.Events, logger)
	if err != nil {
		_ = s.Close()
		return err
	}
	if pub != nil {
		opts = append(opts, tally.WithPlugin(events.NewExtension(pub, events.WithLogger(logger))))
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, tally.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))))

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	t := tally.New(s, opts...)
	if err := t.Start(ctx); err != nil {
		_ = t.Stop()
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(sctx)
	}
	return t.Stop()
}

// openPublisher returns nil when event publishing is disabled.
func openPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case config.EventsRabbitMQ:
		return rabbitmq.Dial(cfg.URL, cfg.Destination)
	case config.EventsKafka:
		return kafka.NewPublisher(kafka.NewWriter(cfg.Brokers, cfg.Destination, logger)), nil
	case config.EventsRedis:
		rdb, err := newRedisClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		return redisPublisher{redis.NewPublisher(rdb, cfg.Destination), rdb}, nil
	default:
		return nil, nil
	}
}

func newRedisClient(url string) (*goredis.Client, error) {
	if !strings.Contains(url, "://") {
		return goredis.NewClient(&goredis.Options{Addr: url}), nil
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

// redisPublisher closes the client it was opened with.
type redisPublisher struct {
	*redis.Publisher
	rdb *goredis.Client
}

func (p redisPublisher) Close() error {
	return p.rdb.Close()
}
