// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. An optional YAML file (pointed to by
// LEASEWARD_CONFIG_FILE) overlays the defaults; environment variables win over both.
//
// # Configuration Structure
//
// Server settings:
//
//	LEASEWARD_HOST="0.0.0.0"
//	LEASEWARD_PORT="8080"
//	LEASEWARD_HEALTH_PORT="9090"
//	LEASEWARD_READ_TIMEOUT="15s"
//	LEASEWARD_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	LEASEWARD_POSTGRES_URL="postgres://localhost/leaseward"
//	LEASEWARD_POSTGRES_REPLICA_URLS="postgres://replica1/leaseward,postgres://replica2/leaseward"
//	LEASEWARD_POSTGRES_MAX_CONNS="25"
//
// Redis settings (sweep coordination, optional):
//
//	LEASEWARD_REDIS_URL="redis://localhost:6379"
//
// Billing settings:
//
//	BILLING_TIMEZONE="America/New_York"
//	LEASEWARD_SWEEP_SCHEDULE="30 0 * * *"
//	LEASEWARD_SWEEP_CONCURRENCY="4"
//
// Observability settings:
//
//	LEASEWARD_LOG_LEVEL="info"  # debug, info, warn, error
//	LEASEWARD_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Sweep schedule: %s\n", cfg.Billing.SweepSchedule)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database configuration
//   - pkg/observability: Uses observability configuration
//   - pkg/sweep: Uses billing sweep configuration
package config
