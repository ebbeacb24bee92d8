// Package config defines the top-level configuration for the bracket bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BRACKETBOT_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Guard      GuardConfig      `toml:"guard"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Feed       FeedConfig       `toml:"feed"`
	Sidecar    SidecarConfig    `toml:"sidecar"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	DryRun     bool             `toml:"dry_run"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds the public Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	ClobHost  string `toml:"clob_host"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the daily
// ledger archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// GuardConfig holds the risk guardrail caps. A value of 0 means unlimited
// for every cap (and disabled for loss_streak_threshold); this is a
// deliberate convention, not an accident of zero values.
type GuardConfig struct {
	Enabled             bool    `toml:"enabled"`
	MaxOpenBrackets     int     `toml:"max_open_brackets"`
	PerBracketCostCap   float64 `toml:"per_bracket_cost_cap"`
	DailyCostCap        float64 `toml:"daily_cost_cap"`
	DailyLossCap        float64 `toml:"daily_loss_cap"`
	LossStreakThreshold int     `toml:"loss_streak_threshold"`
}

// StrategyConfig holds the bracket strategy tunables.
type StrategyConfig struct {
	SlugPatterns        []string `toml:"slug_patterns"`
	MaxBracketUSDC      float64  `toml:"max_bracket_usdc"`
	MinStakeUSDC        float64  `toml:"min_stake_usdc"`
	MaxEntryAsk         float64  `toml:"max_entry_ask"`
	MaxSpread           float64  `toml:"max_spread"`
	MinTotalEdgeCents   float64  `toml:"min_total_edge_cents"`
	MaxTimeToHedge      duration `toml:"max_time_to_hedge"`
	FlattenBeforeExpiry duration `toml:"flatten_before_expiry"`
	Cooldown            duration `toml:"cooldown"`
}

// FeedConfig holds the quote feeder parameters.
type FeedConfig struct {
	Interval          duration `toml:"interval"`
	DiscoveryInterval duration `toml:"discovery_interval"`
	MaxMarkets        int      `toml:"max_markets"`
}

// SidecarConfig holds the execution sidecar endpoint parameters.
type SidecarConfig struct {
	BaseURL  string   `toml:"base_url"`
	Timeout  duration `toml:"timeout"`
	DedupTTL duration `toml:"dedup_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bracketbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Guard: GuardConfig{
			Enabled:             true,
			MaxOpenBrackets:     3,
			PerBracketCostCap:   90,
			DailyCostCap:        250,
			DailyLossCap:        50,
			LossStreakThreshold: 3,
		},
		Strategy: StrategyConfig{
			SlugPatterns:        []string{"bitcoin-up-or-down", "btc-up-or-down"},
			MaxBracketUSDC:      40,
			MinStakeUSDC:        5,
			MaxEntryAsk:         0.35,
			MaxSpread:           0.02,
			MinTotalEdgeCents:   1.0,
			MaxTimeToHedge:      duration{10 * time.Minute},
			FlattenBeforeExpiry: duration{5 * time.Minute},
			Cooldown:            duration{5 * time.Minute},
		},
		Feed: FeedConfig{
			Interval:          duration{5 * time.Second},
			DiscoveryInterval: duration{time.Minute},
			MaxMarkets:        8,
		},
		Sidecar: SidecarConfig{
			BaseURL:  "http://localhost:8100",
			Timeout:  duration{30 * time.Second},
			DedupTTL: duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"bracket_opened", "bracket_hedged", "bracket_resolved", "bracket_flattened", "guard_reject", "error"},
		},
		Mode:     "trade",
		DryRun:   true,
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"server":  true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only when archiving is on.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Guard — caps of 0 mean unlimited, so only negatives are invalid.
	if c.Guard.MaxOpenBrackets < 0 {
		errs = append(errs, "guard: max_open_brackets must be >= 0 (0 = unlimited)")
	}
	if c.Guard.PerBracketCostCap < 0 {
		errs = append(errs, "guard: per_bracket_cost_cap must be >= 0 (0 = unlimited)")
	}
	if c.Guard.DailyCostCap < 0 {
		errs = append(errs, "guard: daily_cost_cap must be >= 0 (0 = unlimited)")
	}
	if c.Guard.DailyLossCap < 0 {
		errs = append(errs, "guard: daily_loss_cap must be >= 0 (0 = unlimited)")
	}
	if c.Guard.LossStreakThreshold < 0 {
		errs = append(errs, "guard: loss_streak_threshold must be >= 0 (0 = disabled)")
	}

	// Strategy
	if len(c.Strategy.SlugPatterns) == 0 {
		errs = append(errs, "strategy: slug_patterns must not be empty")
	}
	if c.Strategy.MaxBracketUSDC <= 0 {
		errs = append(errs, "strategy: max_bracket_usdc must be > 0")
	}
	if c.Strategy.MaxEntryAsk <= 0 || c.Strategy.MaxEntryAsk >= 1 {
		errs = append(errs, "strategy: max_entry_ask must be in (0, 1)")
	}
	if c.Strategy.MaxTimeToHedge.Duration <= 0 {
		errs = append(errs, "strategy: max_time_to_hedge must be > 0")
	}
	if c.Strategy.FlattenBeforeExpiry.Duration <= 0 {
		errs = append(errs, "strategy: flatten_before_expiry must be > 0")
	}

	// Feed
	if c.Feed.Interval.Duration <= 0 {
		errs = append(errs, "feed: interval must be > 0")
	}
	if c.Feed.MaxMarkets < 1 {
		errs = append(errs, "feed: max_markets must be >= 1")
	}

	// Sidecar — required for trade mode with real orders.
	if c.Mode == "trade" && !c.DryRun && c.Sidecar.BaseURL == "" {
		errs = append(errs, "sidecar: base_url is required for live trading")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0 (0 = disabled)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
