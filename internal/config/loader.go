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
// built-in defaults, applies SIGNALBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SIGNALBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setFloat64(&cfg.Trading.RiskPercent, "SIGNALBOT_TRADING_RISK_PERCENT")
	setInt(&cfg.Trading.Leverage, "SIGNALBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.TakeProfitPercent, "SIGNALBOT_TRADING_TAKE_PROFIT_PERCENT")
	setFloat64(&cfg.Trading.StopLossPercent, "SIGNALBOT_TRADING_STOP_LOSS_PERCENT")
	setStringSlice(&cfg.Trading.AllowedSymbols, "SIGNALBOT_TRADING_ALLOWED_SYMBOLS")
	setInt(&cfg.Trading.MaxDailyTrades, "SIGNALBOT_TRADING_MAX_DAILY_TRADES")
	setInt(&cfg.Trading.MaxOpenPositions, "SIGNALBOT_TRADING_MAX_OPEN_POSITIONS")
	setBool(&cfg.Trading.DryRun, "SIGNALBOT_TRADING_DRY_RUN")
	setDuration(&cfg.Trading.ReconcileInterval, "SIGNALBOT_TRADING_RECONCILE_INTERVAL")
	setInt(&cfg.Trading.ReportHour, "SIGNALBOT_TRADING_REPORT_HOUR")
	setBool(&cfg.Trading.MarkPriceFeed, "SIGNALBOT_TRADING_MARK_PRICE_FEED")

	// ── Hours ──
	setBool(&cfg.Hours.Enabled, "SIGNALBOT_HOURS_ENABLED")
	setInt(&cfg.Hours.StartHour, "SIGNALBOT_HOURS_START_HOUR")
	setInt(&cfg.Hours.EndHour, "SIGNALBOT_HOURS_END_HOUR")

	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "SIGNALBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSURL, "SIGNALBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "SIGNALBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "SIGNALBOT_EXCHANGE_API_SECRET")
	setDuration(&cfg.Exchange.Timeout, "SIGNALBOT_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.RateLimitPerSec, "SIGNALBOT_EXCHANGE_RATE_LIMIT_PER_SEC")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIGNALBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGNALBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.SignalChannel, "SIGNALBOT_REDIS_SIGNAL_CHANNEL")
	setStr(&cfg.Redis.AuditStream, "SIGNALBOT_REDIS_AUDIT_STREAM")
	setInt64(&cfg.Redis.StreamMaxLen, "SIGNALBOT_REDIS_STREAM_MAX_LEN")

	// ── Journal ──
	setStr(&cfg.Journal.DSN, "SIGNALBOT_JOURNAL_DSN")
	setInt(&cfg.Journal.PoolMaxConns, "SIGNALBOT_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "SIGNALBOT_JOURNAL_POOL_MIN_CONNS")
	setBool(&cfg.Journal.RunMigrations, "SIGNALBOT_JOURNAL_RUN_MIGRATIONS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGNALBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGNALBOT_MODE")
	setStr(&cfg.LogLevel, "SIGNALBOT_LOG_LEVEL")
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
