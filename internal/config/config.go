// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/grantwell/scholarship-ingest/internal/adapters"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Auth      AuthConfig               `mapstructure:"auth"`
	Scraper   ScraperConfig            `mapstructure:"scraper"`
	Validator ValidatorConfig          `mapstructure:"validator"`
	Breaker   BreakerConfig            `mapstructure:"breaker"`
	RateLimit RateLimitConfig          `mapstructure:"rate_limit"`
	Monitor   MonitorConfig            `mapstructure:"monitor"`
	Storage   StorageConfig            `mapstructure:"storage"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Snapshot  SnapshotConfig           `mapstructure:"snapshot"`
	PubSub    PubSubConfig             `mapstructure:"pubsub"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Sources   []adapters.ListingConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs run fan-out and the ingestion worker pool.
type ScraperConfig struct {
	MaxConcurrentSources int    `mapstructure:"max_concurrent_sources"`
	IngestWorkers        int    `mapstructure:"ingest_workers"`
	SourceTimeoutSeconds int    `mapstructure:"source_timeout_seconds"`
	CandidateBuffer      int    `mapstructure:"candidate_buffer"`
	UserAgent            string `mapstructure:"user_agent"`
}

// ValidatorConfig configures the link validation probe.
type ValidatorConfig struct {
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxRedirects    int    `mapstructure:"max_redirects"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	UserAgent       string `mapstructure:"user_agent"`
	MobileUserAgent string `mapstructure:"mobile_user_agent"`
	SkipMobileProbe bool   `mapstructure:"skip_mobile_probe"`
	// HeadlessMobile renders the mobile probe in a real browser instead of a
	// user-agent swap.
	HeadlessMobile      bool `mapstructure:"headless_mobile"`
	HeadlessMaxParallel int  `mapstructure:"headless_max_parallel"`
}

// BreakerConfig governs the per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownMinutes  int `mapstructure:"cooldown_minutes"`
}

// RateLimitConfig paces outbound requests per domain.
type RateLimitConfig struct {
	DefaultRPS    float64 `mapstructure:"default_rps"`
	DefaultBurst  int     `mapstructure:"default_burst"`
	MinDelayMs    int     `mapstructure:"min_delay_ms"`
	JitterMaxMs   int     `mapstructure:"jitter_max_ms"`
	SourceDelayMs int     `mapstructure:"source_delay_ms"`
}

// MonitorConfig controls the periodic link health sweep.
type MonitorConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	IntervalHours       int  `mapstructure:"interval_hours"`
	InitialDelayMinutes int  `mapstructure:"initial_delay_minutes"`
}

// StorageConfig selects the scholarship record backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig controls access to Postgres when selected.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SnapshotConfig selects where rejection evidence is archived.
type SnapshotConfig struct {
	// Backend is "memory", "local", or "gcs".
	Backend string `mapstructure:"backend"`
	// Enabled toggles evidence archiving for rejected candidates.
	Enabled   bool   `mapstructure:"enabled"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for outcome event publishing.
type PubSubConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ProjectID     string `mapstructure:"project_id"`
	AcceptedTopic string `mapstructure:"accepted_topic"`
	RejectedTopic string `mapstructure:"rejected_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("scraper.max_concurrent_sources", 4)
	v.SetDefault("scraper.ingest_workers", 8)
	v.SetDefault("scraper.source_timeout_seconds", 300)
	v.SetDefault("scraper.candidate_buffer", 256)
	v.SetDefault("scraper.user_agent", "scholarship-ingest-bot/0.1")
	v.SetDefault("validator.timeout_seconds", 15)
	v.SetDefault("validator.max_redirects", 5)
	v.SetDefault("validator.max_body_bytes", 2<<20)
	v.SetDefault("validator.headless_max_parallel", 1)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_minutes", 10)
	v.SetDefault("rate_limit.default_rps", 1)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("rate_limit.min_delay_ms", 500)
	v.SetDefault("rate_limit.jitter_max_ms", 250)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval_hours", 24)
	v.SetDefault("monitor.initial_delay_minutes", 5)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("database.table", "scholarships")
	v.SetDefault("snapshot.backend", "memory")
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.accepted_topic", "scholarships.accepted")
	v.SetDefault("pubsub.rejected_topic", "scholarships.rejected")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxConcurrentSources <= 0 {
		return fmt.Errorf("scraper.max_concurrent_sources must be > 0")
	}
	if c.Scraper.IngestWorkers <= 0 {
		return fmt.Errorf("scraper.ingest_workers must be > 0")
	}
	if c.Validator.TimeoutSeconds <= 0 {
		return fmt.Errorf("validator.timeout_seconds must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Snapshot.Backend {
	case "memory":
	case "local":
		if c.Snapshot.Enabled && c.Snapshot.BaseDir == "" {
			return fmt.Errorf("snapshot.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Snapshot.Enabled && c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshot.backend must be memory, local, or gcs, got %q", c.Snapshot.Backend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if c.Validator.HeadlessMobile && c.Validator.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("validator.headless_max_parallel must be > 0 when headless mobile is enabled")
	}
	return nil
}

// SourceTimeout converts the scraper timeout config into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Scraper.SourceTimeoutSeconds) * time.Second
}

// ValidatorTimeout converts the validator timeout config into a duration.
func (c Config) ValidatorTimeout() time.Duration {
	return time.Duration(c.Validator.TimeoutSeconds) * time.Second
}

// SweepInterval converts the monitor cadence config into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalHours) * time.Hour
}

// SweepInitialDelay converts the monitor warmup config into a duration.
func (c Config) SweepInitialDelay() time.Duration {
	return time.Duration(c.Monitor.InitialDelayMinutes) * time.Minute
}

// BreakerCooldown converts the breaker cooldown config into a duration.
func (c Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownMinutes) * time.Minute
}
