package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Engine.CycleInterval.Duration)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
mode = "paper"
log_level = "debug"

[engine]
symbols = ["SOL-USD"]
cycle_interval = "10s"
initial_capital = 5000.0

[risk]
max_trade_fraction = 0.3
priorities = ["momentum", "breakout"]

[risk.allocations]
momentum = 0.5

[strategies.momentum]
enabled = true
fast_window = 3
slow_window = 12
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"SOL-USD"}, cfg.Engine.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Engine.CycleInterval.Duration)
	assert.Equal(t, 5000.0, cfg.Engine.InitialCapital)
	assert.Equal(t, 0.3, cfg.Risk.MaxTradeFraction)
	assert.Equal(t, 0.5, cfg.Risk.Allocations["momentum"])
	assert.Equal(t, 3, cfg.Strategies.Momentum.FastWindow)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `mode = "paper"`)

	t.Setenv("HELIX_MODE", "server")
	t.Setenv("HELIX_VENUE_API_SECRET", "s3cret")
	t.Setenv("HELIX_ENGINE_SYMBOLS", "BTC-USD, ETH-USD ,SOL-USD")
	t.Setenv("HELIX_GATEWAY_CONFIRM_TIMEOUT", "45s")
	t.Setenv("HELIX_REDIS_DB", "3")
	t.Setenv("HELIX_GATEWAY_RESUBMIT_PARTIALS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "s3cret", cfg.Venue.ApiSecret)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "SOL-USD"}, cfg.Engine.Symbols)
	assert.Equal(t, 45*time.Second, cfg.Gateway.ConfirmTimeout.Duration)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.False(t, cfg.Gateway.ResubmitPartials)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.LogLevel = "loud"
	cfg.Risk.MaxTradeFraction = 1.5
	cfg.Risk.MaxOpenPositions = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "yolo"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "max_trade_fraction")
	assert.Contains(t, err.Error(), "max_open_positions")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateTradeModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue: base_url")
	assert.Contains(t, err.Error(), "venue: api_key")

	cfg.Venue.BaseURL = "https://api.venue.test"
	cfg.Venue.ApiKey = "key"
	cfg.Venue.ApiSecret = "secret"
	cfg.Postgres.Password = "pw"
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectTimeoutMustFitCycle(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.CollectTimeout = duration{10 * time.Second}
	cfg.Engine.CycleInterval = duration{5 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect_timeout")
}

func TestValidateNotifyChannels(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify: at least one channel")

	cfg.Notify.TelegramToken = "bot-token"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram_chat_id")

	cfg.Notify.TelegramChatID = "42"
	assert.NoError(t, cfg.Validate())
}

func TestRiskLimitsConversion(t *testing.T) {
	rc := RiskConfig{
		MaxTradeFraction:  0.2,
		MaxOpenPositions:  4,
		MaxDrawdown:       0.1,
		Allocations:       map[string]float64{"momentum": 0.5},
		Priorities:        []string{"momentum"},
		MaxSymbolNotional: 1000,
		NettingTolerance:  0.001,
	}

	limits := rc.Limits()
	assert.Equal(t, "0.2", limits.MaxTradeFraction.String())
	assert.Equal(t, 4, limits.MaxOpenPositions)
	assert.Equal(t, "0.5", limits.Allocations["momentum"].String())
	assert.Equal(t, []string{"momentum"}, limits.Priorities)
	assert.Equal(t, "1000", limits.MaxSymbolNotional.String())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.ApiSecret = "super-secret"
	cfg.Postgres.Password = "pgpw"
	cfg.Redis.Password = "rdpw"
	cfg.S3.SecretKey = "s3key"
	cfg.Server.APIKey = "srvkey"
	cfg.Notify.DiscordWebhook = "https://discord.test/hook"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Venue.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.DiscordWebhook)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Originals untouched.
	assert.Equal(t, "super-secret", cfg.Venue.ApiSecret)

	// Mutating the redacted copy's collections must not leak back.
	red.Engine.Symbols[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Engine.Symbols[0])
}
