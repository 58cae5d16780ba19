package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/exchange/toobit"
	"github.com/alanyoungcy/signalbot/internal/ledger"
	"github.com/alanyoungcy/signalbot/internal/orchestrator"
	"github.com/alanyoungcy/signalbot/internal/parser"
	"github.com/alanyoungcy/signalbot/internal/risk"
	"github.com/alanyoungcy/signalbot/internal/sequencer"
	"github.com/alanyoungcy/signalbot/internal/stats"
	"github.com/alanyoungcy/signalbot/internal/validator"
)

// eventsChannel carries operator events from the pipeline to the notifier.
const eventsChannel = "notifications"

// TradeMode runs the full pipeline: signal consumption, validation, sizing,
// order sequencing, position tracking, reconciliation, and reporting.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	// The start balance is informational; a fetch failure must not prevent
	// startup.
	startBalance, err := deps.Gateway.Balance(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "start balance unavailable", slog.String("error", err.Error()))
		startBalance = 0
	}

	led := ledger.New(a.cfg.Trading.MaxOpenPositions)
	agg := stats.New(startBalance)

	calc := risk.Calculator{
		RiskPercent:       a.cfg.Trading.RiskPercent,
		Leverage:          a.cfg.Trading.Leverage,
		StopLossPercent:   a.cfg.Trading.StopLossPercent,
		TakeProfitPercent: a.cfg.Trading.TakeProfitPercent,
	}
	val := validator.New(deps.Gateway, led, agg, validator.Config{
		AllowedSymbols:   a.cfg.Trading.AllowedSymbols,
		MaxOpenPositions: a.cfg.Trading.MaxOpenPositions,
		MaxDailyTrades:   a.cfg.Trading.MaxDailyTrades,
		Hours: validator.Window{
			Enabled:   a.cfg.Hours.Enabled,
			StartHour: a.cfg.Hours.StartHour,
			EndHour:   a.cfg.Hours.EndHour,
		},
	}, a.logger)
	seq := sequencer.New(deps.Gateway, calc, a.cfg.Trading.DryRun, a.logger)

	rawCh := make(chan string, 32)
	orch := orchestrator.New(
		orchestrator.Config{AuditStream: a.cfg.Redis.AuditStream},
		rawCh,
		parser.New(parser.DefaultMarker, a.logger),
		val, seq, deps.Gateway, led, agg, deps.Bus,
		a.logger,
	)

	// Signal subscriber: raw bus payloads in, message text out.
	g.Go(func() error {
		defer close(rawCh)
		msgs, err := deps.Bus.Subscribe(ctx, a.cfg.Redis.SignalChannel)
		if err != nil {
			return fmt.Errorf("app: subscribe %s: %w", a.cfg.Redis.SignalChannel, err)
		}
		a.logger.InfoContext(ctx, "consuming signals", slog.String("channel", a.cfg.Redis.SignalChannel))
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-msgs:
				if !ok {
					return nil
				}
				select {
				case rawCh <- string(msg):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	g.Go(func() error {
		return orch.Run(ctx)
	})

	rec := ledger.NewReconciler(led, deps.Gateway, agg, deps.Journal, deps.Bus,
		a.cfg.Trading.ReconcileInterval.Duration, a.logger)
	g.Go(func() error {
		defer rec.Close()
		return rec.Run(ctx)
	})

	// Mark-price feed: keeps unrealized PnL fresh between reconcile ticks.
	if a.cfg.Trading.MarkPriceFeed && a.cfg.Exchange.WSURL != "" {
		feed := toobit.NewMarkFeed(
			a.cfg.Exchange.WSURL,
			func() []string { return a.cfg.Trading.AllowedSymbols },
			led.RefreshMark,
			a.logger,
		)
		g.Go(func() error {
			defer feed.Close()
			return feed.Run(ctx)
		})
	}

	g.Go(func() error {
		return a.notificationLoop(ctx, deps)
	})
	g.Go(func() error {
		return a.dailyReportLoop(ctx, deps, agg)
	})

	return g.Wait()
}

// MonitorMode consumes and validates signals without sizing or placing
// orders. Useful for verifying a signal source before going live.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	led := ledger.New(a.cfg.Trading.MaxOpenPositions)
	agg := stats.New(0)
	val := validator.New(deps.Gateway, led, agg, validator.Config{
		AllowedSymbols:   a.cfg.Trading.AllowedSymbols,
		MaxOpenPositions: a.cfg.Trading.MaxOpenPositions,
		MaxDailyTrades:   a.cfg.Trading.MaxDailyTrades,
		Hours: validator.Window{
			Enabled:   a.cfg.Hours.Enabled,
			StartHour: a.cfg.Hours.StartHour,
			EndHour:   a.cfg.Hours.EndHour,
		},
	}, a.logger)
	p := parser.New(parser.DefaultMarker, a.logger)

	msgs, err := deps.Bus.Subscribe(ctx, a.cfg.Redis.SignalChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", a.cfg.Redis.SignalChannel, err)
	}
	a.logger.InfoContext(ctx, "monitoring signals", slog.String("channel", a.cfg.Redis.SignalChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			sig, parsed := p.Parse(string(msg))
			if !parsed {
				continue
			}
			agg.RecordSignal()
			rej, err := val.Validate(ctx, sig)
			switch {
			case err != nil:
				a.logger.WarnContext(ctx, "validation aborted",
					slog.String("symbol", sig.Symbol),
					slog.String("error", err.Error()),
				)
			case rej != nil:
				agg.RecordIgnored()
			default:
				a.logger.InfoContext(ctx, "signal would be traded",
					slog.String("symbol", sig.Symbol),
					slog.String("direction", string(sig.Direction)),
				)
			}
		}
	}
}

// notificationLoop forwards pipeline events to the configured notification
// channels, applying the operator's event filter.
func (a *App) notificationLoop(ctx context.Context, deps *Dependencies) error {
	events, err := deps.Bus.Subscribe(ctx, eventsChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", eventsChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				a.logger.DebugContext(ctx, "undecodable event dropped", slog.String("error", err.Error()))
				continue
			}
			if err := deps.Notifier.Notify(ctx, string(ev.Type), ev.Title, ev.Message); err != nil {
				a.logger.WarnContext(ctx, "notification delivery failed", slog.String("error", err.Error()))
			}
		}
	}
}

// dailyReportLoop publishes a session summary at the configured UTC hour.
func (a *App) dailyReportLoop(ctx context.Context, deps *Dependencies, agg *stats.Aggregator) error {
	for {
		next := nextReportTime(time.Now().UTC(), a.cfg.Trading.ReportHour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		snap := agg.Snapshot()
		msg := fmt.Sprintf("signals %d (ignored %d), trades %d (%dW/%dL), pnl %+.2f, today %d",
			snap.TotalSignals, snap.SignalsIgnored,
			snap.TotalTrades, snap.WinTrades, snap.LoseTrades,
			snap.TotalRealizedPnL, snap.DailyTrades,
		)
		if deps.Journal != nil {
			midnight := time.Now().UTC().Truncate(24 * time.Hour)
			if pnl, err := deps.Journal.SumPnLSince(ctx, midnight); err == nil {
				msg += fmt.Sprintf(", journal pnl %+.2f", pnl)
			} else {
				a.logger.WarnContext(ctx, "journal pnl unavailable", slog.String("error", err.Error()))
			}
		}

		ev := domain.Event{
			Type:    domain.EventDailyReport,
			Title:   "Daily report",
			Message: msg,
			At:      time.Now().UTC(),
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := deps.Bus.Publish(ctx, eventsChannel, payload); err != nil {
			a.logger.WarnContext(ctx, "daily report publish failed", slog.String("error", err.Error()))
		}
	}
}

// nextReportTime returns the next occurrence of hour:00 UTC strictly after
// now.
func nextReportTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
