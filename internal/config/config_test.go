package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{
			DSN:      "postgres://localhost:5432/fitpulse",
			MaxConns: 25,
			MinConns: 5,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Worker: WorkerConfig{
			Count:        4,
			PollInterval: 500 * time.Millisecond,
			MaxAttempts:  5,
			BackoffBase:  2 * time.Second,
			BackoffMax:   5 * time.Minute,
		},
		Projection: ProjectionConfig{
			RuleSourceEventsRaw: "custom.caffeine.logged, custom.sleep.logged",
			RecentEntriesCap:    30,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t,
		[]string{"custom.caffeine.logged", "custom.sleep.logged"},
		cfg.Projection.RuleSourceEvents,
	)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"max < min conns", func(c *Config) { c.Database.MaxConns = 1 }},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }},
		{"backoff max < base", func(c *Config) { c.Worker.BackoffMax = time.Second }},
		{"zero recent cap", func(c *Config) { c.Projection.RecentEntriesCap = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_EmptyRuleCatalog(t *testing.T) {
	cfg := validConfig()
	cfg.Projection.RuleSourceEventsRaw = " , "
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Projection.RuleSourceEvents)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("database:\n  dsn: postgres://localhost:5432/fitpulse\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/fitpulse", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Worker.Count, "defaults apply for unset keys")
	assert.NotEmpty(t, cfg.Projection.RuleSourceEvents, "catalog is parsed during validation")
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err, "a requested file that cannot be read must not fall through")
}
