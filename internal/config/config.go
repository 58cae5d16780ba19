// Package config defines the top-level configuration for the signal bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SIGNALBOT_* environment
// variables.
type Config struct {
	Trading  TradingConfig  `toml:"trading"`
	Hours    HoursConfig    `toml:"hours"`
	Exchange ExchangeConfig `toml:"exchange"`
	Redis    RedisConfig    `toml:"redis"`
	Journal  JournalConfig  `toml:"journal"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TradingConfig holds sizing and position-limit parameters.
type TradingConfig struct {
	// RiskPercent is the share of the account balance risked per trade.
	RiskPercent       float64  `toml:"risk_percent"`
	Leverage          int      `toml:"leverage"`
	TakeProfitPercent float64  `toml:"take_profit_percent"`
	StopLossPercent   float64  `toml:"stop_loss_percent"`
	AllowedSymbols    []string `toml:"allowed_symbols"`
	MaxDailyTrades    int      `toml:"max_daily_trades"`
	MaxOpenPositions  int      `toml:"max_open_positions"`
	// DryRun sizes and validates without placing any order.
	DryRun            bool     `toml:"dry_run"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	// ReportHour is the UTC hour the daily summary is sent at.
	ReportHour int `toml:"report_hour"`
	// MarkPriceFeed streams mark prices over WebSocket between reconcile
	// ticks.
	MarkPriceFeed bool `toml:"mark_price_feed"`
}

// HoursConfig holds the UTC trading window. A window wrapping midnight
// (start > end) is allowed.
type HoursConfig struct {
	Enabled   bool `toml:"enabled"`
	StartHour int  `toml:"start_hour"`
	EndHour   int  `toml:"end_hour"`
}

// ExchangeConfig holds venue endpoints and credentials.
type ExchangeConfig struct {
	BaseURL         string   `toml:"base_url"`
	WSURL           string   `toml:"ws_url"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	Timeout         duration `toml:"timeout"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
}

// RedisConfig holds Redis connection parameters and the channel layout.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	SignalChannel string `toml:"signal_channel"`
	AuditStream   string `toml:"audit_stream"`
	StreamMaxLen  int64  `toml:"stream_max_len"`
}

// JournalConfig holds PostgreSQL parameters for the closed-trade journal. An
// empty DSN disables the journal entirely.
type JournalConfig struct {
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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
		Trading: TradingConfig{
			RiskPercent:       2.5,
			Leverage:          20,
			TakeProfitPercent: 0.5,
			StopLossPercent:   0.3,
			AllowedSymbols:    []string{"BTCUSDT", "ETHUSDT"},
			MaxDailyTrades:    10,
			MaxOpenPositions:  3,
			DryRun:            false,
			ReconcileInterval: duration{30 * time.Second},
			ReportHour:        22,
			MarkPriceFeed:     true,
		},
		Hours: HoursConfig{
			Enabled:   true,
			StartHour: 6,
			EndHour:   22,
		},
		Exchange: ExchangeConfig{
			BaseURL:         "https://api.toobit.com",
			WSURL:           "wss://stream.toobit.com/quote/ws/v1",
			Timeout:         duration{30 * time.Second},
			RateLimitPerSec: 20,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			TLSEnabled:    false,
			SignalChannel: "signals:raw",
			AuditStream:   "signals:accepted",
			StreamMaxLen:  10000,
		},
		Journal: JournalConfig{
			DSN:           "",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "protection_incomplete", "daily_report"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	if c.Trading.RiskPercent <= 0 || c.Trading.RiskPercent > 100 {
		errs = append(errs, fmt.Sprintf("trading: risk_percent must be in (0, 100], got %g", c.Trading.RiskPercent))
	}
	if c.Trading.Leverage < 1 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be >= 1, got %d", c.Trading.Leverage))
	}
	if c.Trading.StopLossPercent <= 0 {
		errs = append(errs, "trading: stop_loss_percent must be > 0")
	}
	if c.Trading.TakeProfitPercent <= 0 {
		errs = append(errs, "trading: take_profit_percent must be > 0")
	}
	if len(c.Trading.AllowedSymbols) == 0 {
		errs = append(errs, "trading: allowed_symbols must not be empty")
	}
	if c.Trading.MaxDailyTrades < 1 {
		errs = append(errs, "trading: max_daily_trades must be >= 1")
	}
	if c.Trading.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	if c.Trading.ReconcileInterval.Duration <= 0 {
		errs = append(errs, "trading: reconcile_interval must be positive")
	}
	if c.Trading.ReportHour < 0 || c.Trading.ReportHour > 23 {
		errs = append(errs, fmt.Sprintf("trading: report_hour must be 0-23, got %d", c.Trading.ReportHour))
	}

	// Hours
	if c.Hours.StartHour < 0 || c.Hours.StartHour > 23 {
		errs = append(errs, fmt.Sprintf("hours: start_hour must be 0-23, got %d", c.Hours.StartHour))
	}
	if c.Hours.EndHour < 0 || c.Hours.EndHour > 23 {
		errs = append(errs, fmt.Sprintf("hours: end_hour must be 0-23, got %d", c.Hours.EndHour))
	}
	if c.Hours.Enabled && c.Hours.StartHour == c.Hours.EndHour {
		errs = append(errs, "hours: start_hour and end_hour must differ when the window is enabled")
	}

	// Exchange — credentials are only required when orders will be placed.
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Mode == "trade" && !c.Trading.DryRun {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key is required for trade mode")
		}
		if c.Exchange.APISecret == "" {
			errs = append(errs, "exchange: api_secret is required for trade mode")
		}
	}
	if c.Trading.MarkPriceFeed && c.Exchange.WSURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty when mark_price_feed is enabled")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.SignalChannel == "" {
		errs = append(errs, "redis: signal_channel must not be empty")
	}

	// Journal
	if c.Journal.DSN != "" {
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
		if c.Journal.PoolMinConns < 0 {
			errs = append(errs, "journal: pool_min_conns must be >= 0")
		}
		if c.Journal.PoolMinConns > c.Journal.PoolMaxConns {
			errs = append(errs, "journal: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
