package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseward/leaseward/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LEASEWARD_POSTGRES_URL", "postgres://localhost/leaseward_test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, 5, cfg.Database.MinConns)

	assert.Equal(t, "UTC", cfg.Billing.Timezone)
	assert.Equal(t, "30 0 * * *", cfg.Billing.SweepSchedule)
	assert.Equal(t, 4, cfg.Billing.SweepConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.Billing.SweepLockTTL)

	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LEASEWARD_POSTGRES_URL", "postgres://localhost/leaseward_test")
	t.Setenv("LEASEWARD_PORT", "8888")
	t.Setenv("LEASEWARD_READ_TIMEOUT", "45s")
	t.Setenv("LEASEWARD_SWEEP_CONCURRENCY", "8")
	t.Setenv("BILLING_TIMEZONE", "America/New_York")
	t.Setenv("LEASEWARD_LOG_LEVEL", "debug")
	t.Setenv("LEASEWARD_METRICS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8888", cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Billing.SweepConcurrency)
	assert.Equal(t, "America/New_York", cfg.Billing.Timezone)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_PrefixedTimezoneWins(t *testing.T) {
	t.Setenv("LEASEWARD_POSTGRES_URL", "postgres://localhost/leaseward_test")
	t.Setenv("BILLING_TIMEZONE", "America/New_York")
	t.Setenv("LEASEWARD_BILLING_TIMEZONE", "Europe/Berlin")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Billing.Timezone)
}

func TestLoadConfig_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaseward.yaml")
	content := `
server:
  port: "7070"
database:
  url: postgres://filehost/leaseward
  max_conns: 50
billing:
  timezone: Europe/Berlin
  sweep_schedule: "0 2 * * *"
observability:
  log_level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("LEASEWARD_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "postgres://filehost/leaseward", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Database.MaxConns)
	assert.Equal(t, "Europe/Berlin", cfg.Billing.Timezone)
	assert.Equal(t, "0 2 * * *", cfg.Billing.SweepSchedule)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)

	// Unset file fields keep their defaults.
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 4, cfg.Billing.SweepConcurrency)
}

func TestLoadConfig_EnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaseward.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7070\"\ndatabase:\n  url: postgres://filehost/leaseward\n"), 0o600))

	t.Setenv("LEASEWARD_CONFIG_FILE", path)
	t.Setenv("LEASEWARD_PORT", "6060")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Server.Port)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("LEASEWARD_POSTGRES_URL", "postgres://localhost/leaseward_test")
	t.Setenv("LEASEWARD_CONFIG_FILE", "/nonexistent/leaseward.yaml")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Database.URL = "postgres://localhost/leaseward"
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing postgres URL", func(t *testing.T) {
		cfg := valid()
		cfg.Database.URL = ""
		assert.ErrorContains(t, cfg.Validate(), "postgres URL")
	})

	t.Run("port collision", func(t *testing.T) {
		cfg := valid()
		cfg.Server.HealthPort = cfg.Server.Port
		assert.ErrorContains(t, cfg.Validate(), "must be different")
	})

	t.Run("invalid timezone", func(t *testing.T) {
		cfg := valid()
		cfg.Billing.Timezone = "Mars/Olympus_Mons"
		assert.ErrorContains(t, cfg.Validate(), "timezone")
	})

	t.Run("zero sweep concurrency", func(t *testing.T) {
		cfg := valid()
		cfg.Billing.SweepConcurrency = 0
		assert.ErrorContains(t, cfg.Validate(), "concurrency")
	})

	t.Run("max conns below min conns", func(t *testing.T) {
		cfg := valid()
		cfg.Database.MaxConns = 2
		cfg.Database.MinConns = 10
		assert.ErrorContains(t, cfg.Validate(), "max conns")
	})
}

func TestDatabaseConfig_ReplicaURLList(t *testing.T) {
	tests := []struct {
		name string
		urls string
		want []string
	}{
		{"empty", "", nil},
		{"single", "postgres://r1/db", []string{"postgres://r1/db"}},
		{"multiple with spaces", "postgres://r1/db, postgres://r2/db", []string{"postgres://r1/db", "postgres://r2/db"}},
		{"trailing comma", "postgres://r1/db,", []string{"postgres://r1/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DatabaseConfig{ReplicaURLs: tt.urls}
			assert.Equal(t, tt.want, cfg.ReplicaURLList())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"ERROR", observability.ErrorLevel},
		{"garbage", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}
