package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/config"
	"github.com/leaseward/leaseward/pkg/leases"
	"github.com/leaseward/leaseward/pkg/observability"
	"github.com/leaseward/leaseward/pkg/storage/postgres"
	"github.com/leaseward/leaseward/pkg/sweep"
)

var (
	runOnce = flag.Bool("run-once", false, "Run one sweep and exit (for testing or backfilling)")
	asOf    = flag.String("as-of", "", "Sweep date (YYYY-MM-DD). If empty, sweeps today. Only used with --run-once")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	loc, err := cfg.Billing.Location()
	if err != nil {
		log.Fatalf("Failed to load billing timezone: %v", err)
	}

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: cfg.Database.URL,
		MaxConns:   cfg.Database.MaxConns,
		MinConns:   cfg.Database.MinConns,
		Timeout:    cfg.Database.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer cm.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	} else {
		logger.Warn("no Redis configured; sweeps run without cross-instance locking")
	}

	clock := clockwork.NewRealClock()
	leaseService := leases.NewPostgresService(cm.Primary(), clock)
	billingService := billing.NewPostgresService(cm.Primary(), leaseService, clock, loc)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	sweeper := sweep.New(billingService, leaseService, sweep.Options{
		Redis:       redisClient,
		Logger:      logger,
		Metrics:     metrics,
		Clock:       clock,
		Location:    loc,
		Concurrency: cfg.Billing.SweepConcurrency,
		LockTTL:     cfg.Billing.SweepLockTTL,
	})

	// Run once mode (for testing or catching up after downtime)
	if *runOnce {
		date := clock.Now()
		if *asOf != "" {
			date, err = time.ParseInLocation("2006-01-02", *asOf, loc)
			if err != nil {
				log.Fatalf("Invalid --as-of date: %v", err)
			}
		}

		result, err := sweeper.RunAsOf(context.Background(), date)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		logger.WithFields(map[string]interface{}{
			"due_billables":      result.DueBillables,
			"invoices_generated": result.InvoicesGenerated,
			"billable_errors":    result.BillableErrors,
			"overdue_marked":     result.OverdueMarked,
			"leases_expired":     result.LeasesExpired,
		}).Info("sweep completed")
		return
	}

	// Scheduled mode. The cron scheduler logs through logrus so its
	// internal messages carry the same JSON shape as the rest.
	cronLogger := logrus.New()
	cronLogger.SetFormatter(&logrus.JSONFormatter{})
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cron.PrintfLogger(cronLogger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(cronLogger))),
	)

	_, err = c.AddFunc(cfg.Billing.SweepSchedule, func() {
		if _, err := sweeper.Run(context.Background()); err != nil {
			logger.WithError(err).Error("scheduled sweep failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule": cfg.Billing.SweepSchedule,
		"timezone": cfg.Billing.Timezone,
	}).Info("sweeper started")

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	go metrics.CollectDBStats(statsCtx, cm.Primary(), 15*time.Second)

	// Expose metrics and liveness alongside the daemon
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(cm.Primary(), redisClient))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	// Let an in-flight sweep finish before exiting
	cronCtx := c.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	logger.Info("sweeper stopped")
}
