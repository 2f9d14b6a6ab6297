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
// built-in defaults, applies HELIX_* environment variable overrides, and
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

// applyEnvOverrides reads well-known HELIX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "HELIX_ENGINE_SYMBOLS")
	setFloat64(&cfg.Engine.InitialCapital, "HELIX_ENGINE_INITIAL_CAPITAL")
	setDuration(&cfg.Engine.CycleInterval, "HELIX_ENGINE_CYCLE_INTERVAL")
	setDuration(&cfg.Engine.StalenessThreshold, "HELIX_ENGINE_STALENESS_THRESHOLD")
	setDuration(&cfg.Engine.CollectTimeout, "HELIX_ENGINE_COLLECT_TIMEOUT")
	setInt(&cfg.Engine.ReconcileEvery, "HELIX_ENGINE_RECONCILE_EVERY")
	setFloat64(&cfg.Engine.ReconcileTolerance, "HELIX_ENGINE_RECONCILE_TOLERANCE")
	setStr(&cfg.Engine.StatusChannel, "HELIX_ENGINE_STATUS_CHANNEL")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTradeFraction, "HELIX_RISK_MAX_TRADE_FRACTION")
	setInt(&cfg.Risk.MaxOpenPositions, "HELIX_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MaxDrawdown, "HELIX_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.MaxSymbolNotional, "HELIX_RISK_MAX_SYMBOL_NOTIONAL")
	setFloat64(&cfg.Risk.NettingTolerance, "HELIX_RISK_NETTING_TOLERANCE")
	setStringSlice(&cfg.Risk.Priorities, "HELIX_RISK_PRIORITIES")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "HELIX_VENUE_BASE_URL")
	setStr(&cfg.Venue.WsURL, "HELIX_VENUE_WS_URL")
	setStr(&cfg.Venue.ApiKey, "HELIX_VENUE_API_KEY")
	setStr(&cfg.Venue.ApiSecret, "HELIX_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "HELIX_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "HELIX_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.RequestTimeout, "HELIX_VENUE_REQUEST_TIMEOUT")
	setInt64(&cfg.Venue.Sim.Seed, "HELIX_VENUE_SIM_SEED")

	// ── Gateway ──
	setInt(&cfg.Gateway.MaxRetries, "HELIX_GATEWAY_MAX_RETRIES")
	setDuration(&cfg.Gateway.RetryBase, "HELIX_GATEWAY_RETRY_BASE")
	setDuration(&cfg.Gateway.ConfirmTimeout, "HELIX_GATEWAY_CONFIRM_TIMEOUT")
	setDuration(&cfg.Gateway.PollInterval, "HELIX_GATEWAY_POLL_INTERVAL")
	setBool(&cfg.Gateway.ResubmitPartials, "HELIX_GATEWAY_RESUBMIT_PARTIALS")
	setInt(&cfg.Gateway.RateLimit, "HELIX_GATEWAY_RATE_LIMIT")
	setDuration(&cfg.Gateway.RateWindow, "HELIX_GATEWAY_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HELIX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HELIX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HELIX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HELIX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HELIX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HELIX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HELIX_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "HELIX_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "HELIX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HELIX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HELIX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HELIX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HELIX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HELIX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HELIX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HELIX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HELIX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "HELIX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HELIX_S3_REGION")
	setStr(&cfg.S3.Bucket, "HELIX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HELIX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HELIX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HELIX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HELIX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "HELIX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "HELIX_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "HELIX_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "HELIX_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HELIX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HELIX_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HELIX_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "HELIX_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "HELIX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "HELIX_SERVER_RATE_WINDOW")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "HELIX_NOTIFY_ENABLED")
	setStringSlice(&cfg.Notify.Events, "HELIX_NOTIFY_EVENTS")
	setStr(&cfg.Notify.DiscordWebhook, "HELIX_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "HELIX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HELIX_NOTIFY_TELEGRAM_CHAT_ID")

	// ── Strategies ──
	setBool(&cfg.Strategies.Momentum.Enabled, "HELIX_STRATEGIES_MOMENTUM_ENABLED")
	setBool(&cfg.Strategies.MeanReversion.Enabled, "HELIX_STRATEGIES_MEAN_REVERSION_ENABLED")
	setBool(&cfg.Strategies.Breakout.Enabled, "HELIX_STRATEGIES_BREAKOUT_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "HELIX_MODE")
	setStr(&cfg.LogLevel, "HELIX_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
