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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/mooring/internal/audit"
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
	"github.com/austindbirch/mooring/internal/sweeper"
	"github.com/austindbirch/mooring/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("mooring-worker")
	logging.SetDefaultService("mooring-worker")

	shutdown, err := tracing.InitTracing(ctx, "mooring-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// DB connect
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	// Prom metrics
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	store := ledger.NewPostgresStore(pool)
	sink := audit.NewPostgresSink(pool)

	registry := dispatch.NewRegistry()
	handlers.RegisterDefaults(registry, logger)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
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

	// HTTP health/metrics
	checker := health.NewChecker()
	checker.Add("postgres", func(ctx context.Context) error { return pool.Ping(ctx) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", checker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.WorkerHTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	// Producer serves both the sweeper and the DLQ
	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	// Sweeper republishes due retries; the admission guard dedups.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	sw := &sweeper.Sweeper{
		Store:         store,
		Publisher:     producer,
		Topic:         cfg.NSQ.RetriesTopic,
		Metrics:       collector,
		Logger:        logger,
		Interval:      cfg.Retry.SweepInterval,
		Batch:         cfg.Retry.SweepBatch,
		Retention:     cfg.Ledger.Retention,
		PurgeInterval: cfg.Ledger.PurgeInterval,
	}
	go sw.Run(sweepCtx)

	// NSQ consumer
	conf := nsq.NewConfig()
	conf.MaxInFlight = 100
	consumer, err := nsq.NewConsumer(cfg.NSQ.RetriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		task, err := pipeline.UnmarshalRetryTask(m.Body)
		if err != nil {
			logger.Plain().WithError(err).Error("bad retry task payload, dropping")
			return nil // terminal: don't retry bad payloads
		}

		taskCtx := tracing.ExtractTraceFromNSQ(ctx, task.TraceHeaders)
		taskCtx, span := tracing.StartSpan(taskCtx, "worker.retry",
			attribute.String("event_id", task.EventID),
			attribute.String("event_type", task.EventType),
			attribute.Int("attempt", task.Attempt),
		)
		defer span.End()

		res, err := proc.ProcessRetry(taskCtx, task)
		if err != nil {
			// Infrastructure failure: let NSQ redeliver the task.
			logger.WithContext(taskCtx).WithEvent(task.EventID).WithError(err).
				Error("retry admission failed, requeueing task")
			return err
		}
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))

		if res.Outcome == pipeline.OutcomeFailedTerminal && cfg.NSQ.PublishDLQ && res.Entry != nil {
			dead := pipeline.DeadLetter{
				EventID:    res.Entry.EventID,
				EventType:  res.Entry.EventType,
				RetryCount: res.Entry.RetryCount,
				LastError:  res.Entry.LastError,
				FailedAt:   time.Now().UTC(),
			}
			if body, mErr := dead.Marshal(); mErr == nil {
				if pubErr := producer.Publish(cfg.NSQ.DLQTopic, body); pubErr != nil {
					logger.WithContext(taskCtx).WithEvent(task.EventID).WithError(pubErr).
						Error("dlq publish failed")
				} else {
					collector.RecordDLQ()
					logger.WithContext(taskCtx).WithEvent(task.EventID).
						WithField("topic", cfg.NSQ.DLQTopic).Info("dlq published")
				}
			}
		}
		return nil
	}))

	// Connecting directly to NSQD forces channel creation, instead of the
	// channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	cancelSweep()
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
