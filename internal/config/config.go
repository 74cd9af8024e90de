package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Worker     WorkerConfig     `yaml:"worker"`
	Projection ProjectionConfig `yaml:"projection"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// WorkerConfig holds background-job worker pool settings.
type WorkerConfig struct {
	Count        int           `yaml:"count"          env:"WORKER_COUNT"          env-default:"4"`
	PollInterval time.Duration `yaml:"poll_interval"  env:"WORKER_POLL_INTERVAL"  env-default:"500ms"`
	MaxAttempts  int           `yaml:"max_attempts"   env:"WORKER_MAX_ATTEMPTS"   env-default:"5"`
	BackoffBase  time.Duration `yaml:"backoff_base"   env:"WORKER_BACKOFF_BASE"   env-default:"2s"`
	BackoffMax   time.Duration `yaml:"backoff_max"    env:"WORKER_BACKOFF_MAX"    env-default:"5m"`
}

// ProjectionConfig holds projection-engine settings.
type ProjectionConfig struct {
	// RuleSourceEventsRaw is the catalog of event types users may reference
	// in custom projection rules, comma-separated. Event types outside the
	// catalog and without a static handler short-circuit in the dispatcher
	// before any database access.
	RuleSourceEventsRaw string `yaml:"rule_source_events" env:"PROJECTION_RULE_SOURCE_EVENTS" env-default:"custom.caffeine.logged,custom.hydration.logged,custom.sleep.logged,custom.mood.logged,custom.supplement.logged"`

	// RecentEntriesCap bounds the reverse-chronological raw-entry list kept
	// by field_tracking rules.
	RecentEntriesCap int `yaml:"recent_entries_cap" env:"PROJECTION_RECENT_ENTRIES_CAP" env-default:"30"`

	// RuleSourceEvents is parsed from RuleSourceEventsRaw during validation.
	RuleSourceEvents []string `yaml:"-" env:"-"`
}
