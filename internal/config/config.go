// Package config defines the top-level configuration for the helix trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HELIX_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Strategies StrategiesConfig `toml:"strategies"`
	Venue      VenueConfig      `toml:"venue"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds the orchestrator cycle parameters.
type EngineConfig struct {
	Symbols            []string `toml:"symbols"`
	InitialCapital     float64  `toml:"initial_capital"`
	CycleInterval      duration `toml:"cycle_interval"`
	StalenessThreshold duration `toml:"staleness_threshold"`
	CollectTimeout     duration `toml:"collect_timeout"`
	ReconcileEvery     int      `toml:"reconcile_every"`
	ReconcileTolerance float64  `toml:"reconcile_tolerance"`
	StatusChannel      string   `toml:"status_channel"`
	RecentFills        int      `toml:"recent_fills"`
}

// RiskConfig holds the startup risk limits. The running engine may replace
// them through the control boundary; the loaded config is never mutated.
type RiskConfig struct {
	MaxTradeFraction  float64            `toml:"max_trade_fraction"`
	MaxOpenPositions  int                `toml:"max_open_positions"`
	MaxDrawdown       float64            `toml:"max_drawdown"`
	Allocations       map[string]float64 `toml:"allocations"`
	Priorities        []string           `toml:"priorities"`
	MaxSymbolNotional float64            `toml:"max_symbol_notional"`
	NettingTolerance  float64            `toml:"netting_tolerance"`
}

// Limits converts the startup risk configuration into domain limits.
func (r RiskConfig) Limits() domain.RiskLimits {
	allocs := make(map[string]decimal.Decimal, len(r.Allocations))
	for id, f := range r.Allocations {
		allocs[id] = decimal.NewFromFloat(f)
	}
	return domain.RiskLimits{
		MaxTradeFraction:  decimal.NewFromFloat(r.MaxTradeFraction),
		MaxOpenPositions:  r.MaxOpenPositions,
		MaxDrawdown:       decimal.NewFromFloat(r.MaxDrawdown),
		Allocations:       allocs,
		Priorities:        append([]string(nil), r.Priorities...),
		MaxSymbolNotional: decimal.NewFromFloat(r.MaxSymbolNotional),
		NettingTolerance:  decimal.NewFromFloat(r.NettingTolerance),
	}
}

// StrategiesConfig enables and tunes the reference strategies.
type StrategiesConfig struct {
	Momentum      MomentumConfig      `toml:"momentum"`
	MeanReversion MeanReversionConfig `toml:"mean_reversion"`
	Breakout      BreakoutConfig      `toml:"breakout"`
}

// MomentumConfig holds config for the SMA crossover strategy.
type MomentumConfig struct {
	Enabled    bool    `toml:"enabled"`
	FastWindow int     `toml:"fast_window"`
	SlowWindow int     `toml:"slow_window"`
	Fraction   float64 `toml:"fraction"`
	StopLoss   float64 `toml:"stop_loss"`
	TakeProfit float64 `toml:"take_profit"`
}

// MeanReversionConfig holds config for the z-score fade strategy.
type MeanReversionConfig struct {
	Enabled    bool    `toml:"enabled"`
	Window     int     `toml:"window"`
	ZThreshold float64 `toml:"z_threshold"`
	Fraction   float64 `toml:"fraction"`
	StopLoss   float64 `toml:"stop_loss"`
	TakeProfit float64 `toml:"take_profit"`
}

// BreakoutConfig holds config for the channel breakout strategy.
type BreakoutConfig struct {
	Enabled    bool    `toml:"enabled"`
	Lookback   int     `toml:"lookback"`
	Fraction   float64 `toml:"fraction"`
	StopLoss   float64 `toml:"stop_loss"`
	TakeProfit float64 `toml:"take_profit"`
}

// VenueConfig holds the execution venue endpoints and credentials.
type VenueConfig struct {
	BaseURL             string   `toml:"base_url"`
	WsURL               string   `toml:"ws_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestTimeout      duration `toml:"request_timeout"`

	Sim SimConfig `toml:"sim"`
}

// SimConfig tunes the paper venue.
type SimConfig struct {
	StartPrices    map[string]float64 `toml:"start_prices"`
	Volatility     float64            `toml:"volatility"`
	Slippage       float64            `toml:"slippage"`
	Fee            float64            `toml:"fee"`
	PartialEvery   int                `toml:"partial_every"`
	PartialRatio   float64            `toml:"partial_ratio"`
	TransientEvery int                `toml:"transient_every"`
	RejectEvery    int                `toml:"reject_every"`
	Seed           int64              `toml:"seed"`
	StartBalance   float64            `toml:"start_balance"`
}

// GatewayConfig holds execution gateway retry and confirmation parameters.
type GatewayConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	RetryBase        duration `toml:"retry_base"`
	ConfirmTimeout   duration `toml:"confirm_timeout"`
	PollInterval     duration `toml:"poll_interval"`
	ResubmitPartials bool     `toml:"resubmit_partials"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	Prefix        string   `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // per-client requests per rate_window; 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels. Alerts fire on halt
// transitions seen on the status bus.
type NotifyConfig struct {
	Enabled        bool     `toml:"enabled"`
	Events         []string `toml:"events"`
	DiscordWebhook string   `toml:"discord_webhook"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:            []string{"BTC-USD", "ETH-USD"},
			InitialCapital:     10_000,
			CycleInterval:      duration{5 * time.Second},
			StalenessThreshold: duration{15 * time.Second},
			CollectTimeout:     duration{2 * time.Second},
			ReconcileEvery:     12,
			ReconcileTolerance: 0.01,
			StatusChannel:      "helix.status",
			RecentFills:        20,
		},
		Risk: RiskConfig{
			MaxTradeFraction: 0.2,
			MaxOpenPositions: 5,
			MaxDrawdown:      0.25,
			Allocations:      map[string]float64{},
			NettingTolerance: 0.0001,
		},
		Strategies: StrategiesConfig{
			Momentum: MomentumConfig{
				Enabled:    true,
				FastWindow: 5,
				SlowWindow: 20,
				Fraction:   0.05,
			},
			MeanReversion: MeanReversionConfig{
				Enabled:    true,
				Window:     30,
				ZThreshold: 2.0,
				Fraction:   0.05,
			},
			Breakout: BreakoutConfig{
				Enabled:  false,
				Lookback: 20,
				Fraction: 0.05,
			},
		},
		Venue: VenueConfig{
			RequestTimeout: duration{30 * time.Second},
			Sim: SimConfig{
				StartPrices:  map[string]float64{"BTC-USD": 50_000, "ETH-USD": 3_000},
				Volatility:   0.002,
				Slippage:     0.0005,
				Fee:          0.001,
				Seed:         1,
				StartBalance: 10_000,
			},
		},
		Gateway: GatewayConfig{
			MaxRetries:       3,
			RetryBase:        duration{500 * time.Millisecond},
			ConfirmTimeout:   duration{30 * time.Second},
			PollInterval:     duration{time.Second},
			ResubmitPartials: true,
			RateLimit:        10,
			RateWindow:       duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "helix",
			User:          "helix",
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
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "helix-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{time.Hour},
			RetentionDays: 30,
			Prefix:        "fills",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Enabled: false,
			Events:  []string{"halt"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"paper":  true,
	"server": true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	trading := c.Mode == "trade" || c.Mode == "paper"

	// Engine
	if trading {
		if len(c.Engine.Symbols) == 0 {
			errs = append(errs, "engine: symbols must not be empty")
		}
		if c.Engine.InitialCapital <= 0 {
			errs = append(errs, "engine: initial_capital must be > 0")
		}
		if c.Engine.CycleInterval.Duration <= 0 {
			errs = append(errs, "engine: cycle_interval must be > 0")
		}
		if c.Engine.StalenessThreshold.Duration <= 0 {
			errs = append(errs, "engine: staleness_threshold must be > 0")
		}
		if c.Engine.CollectTimeout.Duration >= c.Engine.CycleInterval.Duration {
			errs = append(errs, "engine: collect_timeout must be shorter than cycle_interval")
		}
	}

	// Risk
	if c.Risk.MaxTradeFraction <= 0 || c.Risk.MaxTradeFraction > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_trade_fraction must be in (0, 1], got %g", c.Risk.MaxTradeFraction))
	}
	if c.Risk.MaxDrawdown < 0 || c.Risk.MaxDrawdown >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown must be in [0, 1), got %g", c.Risk.MaxDrawdown))
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	for id, f := range c.Risk.Allocations {
		if f <= 0 || f > 1 {
			errs = append(errs, fmt.Sprintf("risk: allocation for %q must be in (0, 1], got %g", id, f))
		}
	}

	// Venue: live trading needs credentials; paper mode does not.
	if c.Mode == "trade" {
		if c.Venue.BaseURL == "" {
			errs = append(errs, "venue: base_url must not be empty for mode trade")
		}
		if c.Venue.ApiKey == "" {
			errs = append(errs, "venue: api_key is required for mode trade")
		}
		if c.Venue.ApiSecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set for mode trade")
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Gateway
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, "gateway: max_retries must be >= 0")
	}
	if c.Gateway.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "gateway: confirm_timeout must be > 0")
	}

	// Postgres: required for live trading durability.
	if c.Mode == "trade" {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if c.Notify.Enabled {
		if c.Notify.DiscordWebhook == "" && c.Notify.TelegramToken == "" {
			errs = append(errs, "notify: at least one channel (discord_webhook or telegram_token) must be set when enabled")
		}
		if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
			errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
		}
	}

	// Strategies: at least one must be enabled for trading modes.
	if trading {
		if !c.Strategies.Momentum.Enabled && !c.Strategies.MeanReversion.Enabled && !c.Strategies.Breakout.Enabled {
			errs = append(errs, "strategies: at least one strategy must be enabled")
		}
		if c.Strategies.Momentum.Enabled && c.Strategies.Momentum.FastWindow >= c.Strategies.Momentum.SlowWindow {
			errs = append(errs, "strategies: momentum fast_window must be smaller than slow_window")
		}
		if c.Strategies.MeanReversion.Enabled && c.Strategies.MeanReversion.Window < 2 {
			errs = append(errs, "strategies: mean_reversion window must be >= 2")
		}
		if c.Strategies.Breakout.Enabled && c.Strategies.Breakout.Lookback < 2 {
			errs = append(errs, "strategies: breakout lookback must be >= 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
