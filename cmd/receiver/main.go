package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/mooring/internal/audit"
	"github.com/austindbirch/mooring/internal/auth"
	"github.com/austindbirch/mooring/internal/backoff"
	"github.com/austindbirch/mooring/internal/config"
	"github.com/austindbirch/mooring/internal/db"
	"github.com/austindbirch/mooring/internal/dispatch"
	"github.com/austindbirch/mooring/internal/handlers"
	"github.com/austindbirch/mooring/internal/health"
	"github.com/austindbirch/mooring/internal/ledger"
	"github.com/austindbirch/mooring/internal/logging"
	"github.com/austindbirch/mooring/internal/metrics"
	"github.com/austindbirch/mooring/internal/pipeline"
	"github.com/austindbirch/mooring/internal/ratelimit"
	"github.com/austindbirch/mooring/internal/server"
	"github.com/austindbirch/mooring/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("mooring-receiver")
	logging.SetDefaultService("mooring-receiver")

	if cfg.Signature.Secret == "" {
		logger.Plain().Fatal("WEBHOOK_SECRET is required")
	}

	shutdown, err := tracing.InitTracing(ctx, "mooring-receiver")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// DB connect + migrations
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(cfg.DSN()); err != nil {
		logger.Plain().WithError(err).Fatal("db migrations failed")
	}

	// Redis for the shared rate limit window
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	// Prom metrics
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	store := ledger.NewPostgresStore(pool)
	sink := audit.NewPostgresSink(pool)

	registry := dispatch.NewRegistry()
	handlers.RegisterDefaults(registry, logger)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "receiver"
	}

	proc := &pipeline.Processor{
		Store:    store,
		Registry: registry,
		Audit:    sink,
		Backoff: backoff.Policy{
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
			MaxDelay:     cfg.Retry.MaxDelay,
			Jitter:       cfg.Retry.Jitter,
		},
		Metrics:     collector,
		Logger:      logger,
		MaxRetries:  cfg.Retry.MaxRetries,
		ProcessedBy: hostname,
	}

	checker := health.NewChecker()
	checker.Add("postgres", func(ctx context.Context) error { return pool.Ping(ctx) })
	checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

	srv := &server.Server{
		Processor: proc,
		Limiter:   ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests),
		Store:     store,
		Audit:     sink,
		Metrics:   collector,
		Logger:    logger,
		Health:    checker,
		Registry:  reg,
		Signature: cfg.Signature,
		KeyHeader: cfg.RateLimit.KeyHeader,
	}

	// Admin API only mounts with a configured verification key.
	if cfg.Admin.JWTPublicKeyPEM != "" {
		validator, err := auth.NewValidator(cfg.Admin.JWTPublicKeyPEM, cfg.Admin.JWTIssuer, cfg.Admin.JWTAudience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("admin JWT key invalid")
		}
		srv.Validator = validator

		// Replays dispatch immediately instead of waiting for the sweeper.
		producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer creation failed")
		}
		defer producer.Stop()
		srv.Publisher = producer
		srv.RetriesTopic = cfg.NSQ.RetriesTopic
	} else {
		logger.Plain().Warn("ADMIN_JWT_PUBLIC_KEY not set, admin API disabled")
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("receiver HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("receiver HTTP server failed")
		}
	}()

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down receiver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("receiver stopped")
}
