package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// eventsChannel is the bus channel reconciler events are published on.
const eventsChannel = "notifications"

// CloseRecorder receives every detected closure, in tick order.
type CloseRecorder interface {
	RecordClose(pos domain.ClosedPosition)
}

// Reconciler periodically compares tracked open positions against
// exchange-reported truth and drives open-to-closed transitions. Ticks run
// sequentially on one goroutine, so a slow poll can never overlap the next.
type Reconciler struct {
	ledger   *Ledger
	gateway  domain.ExchangeGateway
	recorder CloseRecorder
	journal  domain.TradeJournal // optional
	bus      domain.SignalBus    // optional
	period   time.Duration
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewReconciler creates a Reconciler polling at the given period. journal and
// bus may be nil.
func NewReconciler(l *Ledger, gateway domain.ExchangeGateway, recorder CloseRecorder, journal domain.TradeJournal, bus domain.SignalBus, period time.Duration, logger *slog.Logger) *Reconciler {
	if period <= 0 {
		period = 30 * time.Second
	}
	return &Reconciler{
		ledger:   l,
		gateway:  gateway,
		recorder: recorder,
		journal:  journal,
		bus:      bus,
		period:   period,
		logger:   logger.With(slog.String("component", "reconciler")),
		done:     make(chan struct{}),
	}
}

// Run ticks until the context is cancelled or Close is called. Errors inside
// a tick are logged and isolated; they never stop the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", slog.Duration("period", r.period))
	defer r.logger.Info("reconciler stopped")

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Close stops the reconciler; no further ticks are scheduled.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// tick reconciles every tracked open position. Per-position failures are
// logged and skipped so one bad symbol cannot halt monitoring of the rest.
func (r *Reconciler) tick(ctx context.Context) {
	for _, pos := range r.ledger.OpenPositions() {
		if err := r.reconcile(ctx, pos); err != nil {
			r.logger.WarnContext(ctx, "reconcile failed, retrying next tick",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, pos domain.OpenPosition) error {
	live, err := r.gateway.LivePositions(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("reconciler: live positions %s: %w", pos.Symbol, err)
	}

	for _, lp := range live {
		if lp.Symbol == pos.Symbol && lp.Size != 0 {
			// Still open: refresh transient fields only.
			r.ledger.RefreshMark(pos.Symbol, lp.MarkPrice)
			return nil
		}
	}

	// Reported size is zero or the symbol is absent: the position was closed
	// by stop, target, or some external action.
	exitPrice := r.exitPrice(ctx, pos)
	closed, err := r.ledger.Close(pos.Symbol, exitPrice, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reconciler: close %s: %w", pos.Symbol, err)
	}

	r.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", closed.Symbol),
		slog.String("direction", string(closed.Direction)),
		slog.Float64("entry", closed.EntryPrice),
		slog.Float64("exit", closed.ExitPrice),
		slog.Float64("realized_pnl", closed.RealizedPnL),
		slog.Float64("duration_sec", closed.DurationSeconds),
	)

	if r.recorder != nil {
		r.recorder.RecordClose(closed)
	}
	if r.journal != nil {
		if err := r.journal.RecordClose(ctx, closed); err != nil {
			r.logger.WarnContext(ctx, "journal write failed",
				slog.String("symbol", closed.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	r.publishClosed(ctx, closed)
	return nil
}

// exitPrice determines the closing price: the most recent fill on the side
// that reduces the position, falling back to the entry price when no such
// fill can be found.
func (r *Reconciler) exitPrice(ctx context.Context, pos domain.OpenPosition) float64 {
	trades, err := r.gateway.RecentTrades(ctx, pos.Symbol, 20)
	if err != nil {
		r.logger.DebugContext(ctx, "recent trades unavailable, using entry price",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return pos.EntryPrice
	}
	closeSide := pos.Direction.CloseSide()
	for _, t := range trades {
		if t.Side == closeSide {
			return t.Price
		}
	}
	return pos.EntryPrice
}

func (r *Reconciler) publishClosed(ctx context.Context, closed domain.ClosedPosition) {
	if r.bus == nil {
		return
	}
	ev := domain.Event{
		Type:  domain.EventPositionClosed,
		Title: fmt.Sprintf("Position closed: %s %s", closed.Symbol, closed.Direction),
		Message: fmt.Sprintf("entry %.4f exit %.4f qty %.4f pnl %+.2f (%+.2f%%) after %s",
			closed.EntryPrice, closed.ExitPrice, closed.Quantity,
			closed.RealizedPnL, closed.RealizedPnLPercent,
			time.Duration(closed.DurationSeconds*float64(time.Second)).Round(time.Second)),
		At: closed.ClosedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, eventsChannel, payload); err != nil {
		r.logger.DebugContext(ctx, "event publish failed", slog.String("error", err.Error()))
	}
}
