// Package validator gate-checks parsed signals before any sizing or order
// placement happens. Checks run in a fixed order and short-circuit on the
// first failure, so rejection reasons are deterministic.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// RejectCode identifies which check a signal failed.
type RejectCode string

const (
	RejectSymbolNotAllowed RejectCode = "symbol_not_allowed"
	RejectBadDirection     RejectCode = "bad_direction"
	RejectOutsideHours     RejectCode = "outside_trading_hours"
	RejectPositionExists   RejectCode = "position_exists"
	RejectMaxPositions     RejectCode = "max_positions"
	RejectMaxDailyTrades   RejectCode = "max_daily_trades"
	RejectNoBalance        RejectCode = "no_balance"
	RejectNotTradable      RejectCode = "not_tradable"
)

// HoursInfo carries the auxiliary detail attached to a trading-hours
// rejection, for operator reporting.
type HoursInfo struct {
	Now       time.Time
	StartHour int
	EndHour   int
	NextOpen  time.Duration
}

// Rejection describes why a signal was not acted on. A nil *Rejection from
// Validate means the signal passed every check.
type Rejection struct {
	Code   RejectCode
	Reason string
	Hours  *HoursInfo
}

// LedgerView is the read-only slice of the position ledger the validator
// consults.
type LedgerView interface {
	HasOpen(symbol string) bool
	OpenCount() int
}

// TradeCounter exposes the running daily trade count.
type TradeCounter interface {
	DailyTrades() int
}

// Config holds the validator limits.
type Config struct {
	AllowedSymbols   []string
	MaxOpenPositions int
	MaxDailyTrades   int
	Hours            Window
}

// Validator applies the pre-trade gate checks. It reads the gateway and the
// ledger but never mutates either.
type Validator struct {
	gateway domain.ExchangeGateway
	ledger  LedgerView
	trades  TradeCounter
	cfg     Config
	allowed map[string]bool
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Validator.
func New(gateway domain.ExchangeGateway, ledger LedgerView, trades TradeCounter, cfg Config, logger *slog.Logger) *Validator {
	allowed := make(map[string]bool, len(cfg.AllowedSymbols))
	for _, s := range cfg.AllowedSymbols {
		allowed[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return &Validator{
		gateway: gateway,
		ledger:  ledger,
		trades:  trades,
		cfg:     cfg,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "validator")),
		now:     time.Now,
	}
}

// Validate runs the gate checks in order: allow-list, direction, trading
// hours, per-symbol open position, open-position count, daily trade count,
// balance, instrument tradability. It returns a non-nil Rejection for the
// first failed check. The error return is reserved for gateway failures,
// which are neither acceptance nor rejection.
func (v *Validator) Validate(ctx context.Context, sig domain.Signal) (*Rejection, error) {
	if !v.allowed[sig.Symbol] {
		return v.reject(ctx, sig, RejectSymbolNotAllowed,
			fmt.Sprintf("symbol %s is not in the allow-list", sig.Symbol), nil), nil
	}

	if !sig.Direction.Valid() {
		return v.reject(ctx, sig, RejectBadDirection,
			fmt.Sprintf("direction %q is not LONG or SHORT", sig.Direction), nil), nil
	}

	now := v.now().UTC()
	if !v.cfg.Hours.Active(now) {
		info := &HoursInfo{
			Now:       now,
			StartHour: v.cfg.Hours.StartHour,
			EndHour:   v.cfg.Hours.EndHour,
			NextOpen:  v.cfg.Hours.NextOpen(now),
		}
		return v.reject(ctx, sig, RejectOutsideHours,
			fmt.Sprintf("outside trading hours %02d:00-%02d:00 UTC, next window in %s",
				info.StartHour, info.EndHour, info.NextOpen.Round(time.Minute)), info), nil
	}

	if v.ledger.HasOpen(sig.Symbol) {
		return v.reject(ctx, sig, RejectPositionExists,
			fmt.Sprintf("position already open for %s", sig.Symbol), nil), nil
	}

	if open := v.ledger.OpenCount(); open >= v.cfg.MaxOpenPositions {
		return v.reject(ctx, sig, RejectMaxPositions,
			fmt.Sprintf("open positions at limit (%d/%d)", open, v.cfg.MaxOpenPositions), nil), nil
	}

	if daily := v.trades.DailyTrades(); daily >= v.cfg.MaxDailyTrades {
		return v.reject(ctx, sig, RejectMaxDailyTrades,
			fmt.Sprintf("daily trades at limit (%d/%d)", daily, v.cfg.MaxDailyTrades), nil), nil
	}

	balance, err := v.gateway.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("validator: fetch balance: %w", err)
	}
	if balance <= 0 {
		return v.reject(ctx, sig, RejectNoBalance,
			fmt.Sprintf("account balance %.2f is not positive", balance), nil), nil
	}

	cons, err := v.gateway.Instrument(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("validator: fetch instrument %s: %w", sig.Symbol, err)
	}
	if !cons.Tradable {
		return v.reject(ctx, sig, RejectNotTradable,
			fmt.Sprintf("instrument %s is not tradable", sig.Symbol), nil), nil
	}

	return nil, nil
}

func (v *Validator) reject(ctx context.Context, sig domain.Signal, code RejectCode, reason string, hours *HoursInfo) *Rejection {
	v.logger.WarnContext(ctx, "signal rejected",
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.String("code", string(code)),
		slog.String("reason", reason),
	)
	return &Rejection{Code: code, Reason: reason, Hours: hours}
}
