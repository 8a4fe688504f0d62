package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leaseward/leaseward/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (sweep coordination)
	Redis RedisConfig `yaml:"redis"`

	// Billing configuration
	Billing BillingConfig `yaml:"billing"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"-"`
	WriteTimeout    time.Duration `yaml:"-"`
	IdleTimeout     time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	ReplicaURLs string        `yaml:"replica_urls"` // comma-separated
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"-"`
}

// RedisConfig holds Redis connection configuration. Redis is optional;
// without it the sweeper runs unlocked (single-instance deployments).
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BillingConfig holds billing engine configuration
type BillingConfig struct {
	// Timezone is the civil zone all due dates are normalized in.
	Timezone string `yaml:"timezone"`

	// SweepSchedule is the cron expression for the nightly invoice sweep.
	SweepSchedule string `yaml:"sweep_schedule"`

	// SweepConcurrency bounds how many billables are processed in parallel.
	SweepConcurrency int `yaml:"sweep_concurrency"`

	// SweepLockTTL caps how long a sweep instance may hold the Redis lock.
	SweepLockTTL time.Duration `yaml:"-"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// LoadConfig loads configuration from environment variables, with an
// optional YAML file overlay pointed to by LEASEWARD_CONFIG_FILE. File
// values sit between built-in defaults and environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("LEASEWARD_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Observability.LogLevelName != "" {
		cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxConns: 25,
			MinConns: 5,
			Timeout:  5 * time.Second,
		},
		Billing: BillingConfig{
			Timezone:         "UTC",
			SweepSchedule:    "30 0 * * *",
			SweepConcurrency: 4,
			SweepLockTTL:     30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("LEASEWARD_HOST", c.Server.Host)
	c.Server.Port = getEnv("LEASEWARD_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("LEASEWARD_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("LEASEWARD_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("LEASEWARD_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("LEASEWARD_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("LEASEWARD_HEALTH_PORT", c.Server.HealthPort)

	c.Database.URL = getEnv("LEASEWARD_POSTGRES_URL", c.Database.URL)
	c.Database.ReplicaURLs = getEnv("LEASEWARD_POSTGRES_REPLICA_URLS", c.Database.ReplicaURLs)
	c.Database.MaxConns = getEnvInt("LEASEWARD_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("LEASEWARD_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("LEASEWARD_POSTGRES_TIMEOUT", c.Database.Timeout)

	c.Redis.URL = getEnv("LEASEWARD_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("LEASEWARD_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("LEASEWARD_REDIS_DB", c.Redis.DB)

	// BILLING_TIMEZONE is the documented key; the prefixed form wins.
	c.Billing.Timezone = getEnv("BILLING_TIMEZONE", c.Billing.Timezone)
	c.Billing.Timezone = getEnv("LEASEWARD_BILLING_TIMEZONE", c.Billing.Timezone)
	c.Billing.SweepSchedule = getEnv("LEASEWARD_SWEEP_SCHEDULE", c.Billing.SweepSchedule)
	c.Billing.SweepConcurrency = getEnvInt("LEASEWARD_SWEEP_CONCURRENCY", c.Billing.SweepConcurrency)
	c.Billing.SweepLockTTL = getEnvDuration("LEASEWARD_SWEEP_LOCK_TTL", c.Billing.SweepLockTTL)

	c.Observability.LogLevelName = getEnv("LEASEWARD_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("LEASEWARD_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// ReplicaURLList splits the comma-separated replica URL string
func (c *DatabaseConfig) ReplicaURLList() []string {
	if c.ReplicaURLs == "" {
		return nil
	}
	parts := strings.Split(c.ReplicaURLs, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}

// Location resolves the configured billing timezone
func (c *BillingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max conns (%d) must be >= min conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if _, err := c.Billing.Location(); err != nil {
		return fmt.Errorf("invalid billing timezone %q: %w", c.Billing.Timezone, err)
	}
	if c.Billing.SweepConcurrency < 1 {
		return fmt.Errorf("sweep concurrency must be at least 1")
	}
	if c.Billing.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
