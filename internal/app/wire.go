package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/signalbot/internal/cache/redis"
	"github.com/alanyoungcy/signalbot/internal/config"
	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/exchange/toobit"
	"github.com/alanyoungcy/signalbot/internal/journal/postgres"
	"github.com/alanyoungcy/signalbot/internal/notify"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Gateway     domain.ExchangeGateway
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter
	Journal     domain.TradeJournal // nil when no journal DSN is configured
	Notifier    *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: signal transport, events, rate limiting ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Exchange gateway ---
	deps.Gateway = toobit.New(toobit.Config{
		BaseURL:         cfg.Exchange.BaseURL,
		APIKey:          cfg.Exchange.APIKey,
		APISecret:       cfg.Exchange.APISecret,
		Timeout:         cfg.Exchange.Timeout.Duration,
		RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
	}, deps.RateLimiter, logger)

	// --- PostgreSQL trade journal (optional) ---
	if cfg.Journal.DSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			MaxConns: cfg.Journal.PoolMaxConns,
			MinConns: cfg.Journal.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Journal.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewTradeJournal(pgClient.Pool())
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
