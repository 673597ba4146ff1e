// Command courier runs one courier node against PostgreSQL.
//
// Configuration comes from an optional YAML file named by -config (or
// COURIER_CONFIG) and COURIER_ prefixed environment variables. A .env file
// in the working directory is loaded first when present.
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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	audithook "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/store/postgres"
	redislock "github.com/xraph/courier/store/redis"
	"github.com/xraph/courier/transport"
	"github.com/xraph/courier/transport/local"
	couriernats "github.com/xraph/courier/transport/nats"
	"github.com/xraph/courier/transport/rabbitmq"
	"github.com/xraph/courier/transport/redisstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	configPath := flag.String("config", os.Getenv("COURIER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := courier.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := courier.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.New(ctx, cfg.Postgres.ConnString,
		postgres.WithSchema(cfg.Postgres.Schema),
		postgres.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	loop := local.New()
	mux := transport.NewMux()
	mux.Register("local", loop)
	amqp := rabbitmq.New(rabbitmq.WithDialURL(cfg.RabbitMQ.URL), rabbitmq.WithLogger(logger))
	mux.Register("amqp", amqp)
	mux.Register("amqps", amqp)
	mux.Register("nats", couriernats.New(
		couriernats.WithServerURL(cfg.NATS.URL),
		couriernats.WithName(cfg.ServiceName),
		couriernats.WithLogger(logger),
	))

	auditLog := logger.WithGroup("audit")
	audit := audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		auditLog.InfoContext(ctx, evt.Action,
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("severity", evt.Severity),
			slog.String("reason", evt.Reason),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	}), audithook.WithActions(
		audithook.ActionEnvelopeDeadLettered,
		audithook.ActionCircuitBroken,
		audithook.ActionCircuitResumed,
		audithook.ActionNodeReassigned,
	), audithook.WithLogger(logger))

	opts := []engine.Option{
		engine.WithTransport(mux),
		engine.WithLogger(logger),
		engine.WithBackoff(retry.DefaultStrategy()),
		engine.WithExtension(audit),
	}

	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		mux.Register("redis", redisstream.New(rdb))

		locker := redislock.NewLocker(rdb, redislock.WithLogger(logger))
		go locker.KeepAlive(ctx)
		defer func() {
			if err := locker.Close(context.Background()); err != nil {
				logger.Warn("release redis leases", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, engine.WithLocker(locker))
	}

	eng, err := engine.Build(cfg, st, opts...)
	if err != nil {
		return err
	}
	loop.Bind(eng.Receive)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		observability.NewCountsCollector(st, 5*time.Second, logger),
	)
	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	api.New(eng, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", slog.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	logger.Info("courier running",
		slog.Int("node_id", int(cfg.NodeID)),
		slog.Any("schemes", mux.Schemes()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	stopErr := eng.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", slog.String("error", err.Error()))
	}
	return stopErr
}
