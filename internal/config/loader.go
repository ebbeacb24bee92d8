package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BRACKETBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BRACKETBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "BRACKETBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "BRACKETBOT_POLYMARKET_CLOB_HOST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BRACKETBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BRACKETBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BRACKETBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BRACKETBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BRACKETBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BRACKETBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BRACKETBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BRACKETBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BRACKETBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BRACKETBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BRACKETBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BRACKETBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BRACKETBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BRACKETBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BRACKETBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BRACKETBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BRACKETBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BRACKETBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BRACKETBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BRACKETBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BRACKETBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BRACKETBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BRACKETBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BRACKETBOT_S3_FORCE_PATH_STYLE")

	// ── Guard ──
	setBool(&cfg.Guard.Enabled, "BRACKETBOT_GUARD_ENABLED")
	setInt(&cfg.Guard.MaxOpenBrackets, "BRACKETBOT_GUARD_MAX_OPEN_BRACKETS")
	setFloat64(&cfg.Guard.PerBracketCostCap, "BRACKETBOT_GUARD_PER_BRACKET_COST_CAP")
	setFloat64(&cfg.Guard.DailyCostCap, "BRACKETBOT_GUARD_DAILY_COST_CAP")
	setFloat64(&cfg.Guard.DailyLossCap, "BRACKETBOT_GUARD_DAILY_LOSS_CAP")
	setInt(&cfg.Guard.LossStreakThreshold, "BRACKETBOT_GUARD_LOSS_STREAK_THRESHOLD")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.SlugPatterns, "BRACKETBOT_STRATEGY_SLUG_PATTERNS")
	setFloat64(&cfg.Strategy.MaxBracketUSDC, "BRACKETBOT_STRATEGY_MAX_BRACKET_USDC")
	setFloat64(&cfg.Strategy.MinStakeUSDC, "BRACKETBOT_STRATEGY_MIN_STAKE_USDC")
	setFloat64(&cfg.Strategy.MaxEntryAsk, "BRACKETBOT_STRATEGY_MAX_ENTRY_ASK")
	setFloat64(&cfg.Strategy.MaxSpread, "BRACKETBOT_STRATEGY_MAX_SPREAD")
	setFloat64(&cfg.Strategy.MinTotalEdgeCents, "BRACKETBOT_STRATEGY_MIN_TOTAL_EDGE_CENTS")
	setDuration(&cfg.Strategy.MaxTimeToHedge, "BRACKETBOT_STRATEGY_MAX_TIME_TO_HEDGE")
	setDuration(&cfg.Strategy.FlattenBeforeExpiry, "BRACKETBOT_STRATEGY_FLATTEN_BEFORE_EXPIRY")
	setDuration(&cfg.Strategy.Cooldown, "BRACKETBOT_STRATEGY_COOLDOWN")

	// ── Feed ──
	setDuration(&cfg.Feed.Interval, "BRACKETBOT_FEED_INTERVAL")
	setDuration(&cfg.Feed.DiscoveryInterval, "BRACKETBOT_FEED_DISCOVERY_INTERVAL")
	setInt(&cfg.Feed.MaxMarkets, "BRACKETBOT_FEED_MAX_MARKETS")

	// ── Sidecar ──
	setStr(&cfg.Sidecar.BaseURL, "BRACKETBOT_SIDECAR_BASE_URL")
	setDuration(&cfg.Sidecar.Timeout, "BRACKETBOT_SIDECAR_TIMEOUT")
	setDuration(&cfg.Sidecar.DedupTTL, "BRACKETBOT_SIDECAR_DEDUP_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BRACKETBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BRACKETBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BRACKETBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BRACKETBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BRACKETBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BRACKETBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BRACKETBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BRACKETBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BRACKETBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BRACKETBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BRACKETBOT_MODE")
	setBool(&cfg.DryRun, "BRACKETBOT_DRY_RUN")
	setStr(&cfg.LogLevel, "BRACKETBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
