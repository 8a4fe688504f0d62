package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leaseward/leaseward/pkg/api"
	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/config"
	"github.com/leaseward/leaseward/pkg/leases"
	"github.com/leaseward/leaseward/pkg/observability"
	"github.com/leaseward/leaseward/pkg/storage/postgres"
)

func main() {
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
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLList(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer cm.Close()

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cm.Primary()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("database migrations applied")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	clock := clockwork.NewRealClock()
	leaseService := leases.NewPostgresService(cm.Primary(), clock)
	billingService := billing.NewPostgresService(cm.Primary(), leaseService, clock, loc)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)

		statsCtx, stopStats := context.WithCancel(ctx)
		defer stopStats()
		go metrics.CollectDBStats(statsCtx, cm.Primary(), 15*time.Second)
	}

	server := api.NewServer(leaseService, billingService, api.ServerOptions{
		Logger:   logger,
		Metrics:  metrics,
		Clock:    clock,
		Location: loc,
	})

	// Health and metrics are served on a separate port so they stay
	// reachable behind a firewall that only exposes the API port.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(cm.Primary(), redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	err = observability.GracefulShutdown(logger, httpServer, cfg.Server.ShutdownTimeout,
		func(ctx context.Context) error {
			return healthServer.Shutdown(ctx)
		},
	)
	if err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
		os.Exit(1)
	}
}
