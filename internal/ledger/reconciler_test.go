package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

type reconGateway struct {
	positions map[string][]domain.LivePosition
	posErr    map[string]error
	trades    map[string][]domain.ExecutedTrade
	tradesErr error
}

func (g *reconGateway) Balance(context.Context) (float64, error) { return 1000, nil }
func (g *reconGateway) Instrument(context.Context, string) (domain.InstrumentConstraints, error) {
	return domain.InstrumentConstraints{}, nil
}
func (g *reconGateway) Price(context.Context, string) (float64, error) { return 100, nil }
func (g *reconGateway) SetLeverage(context.Context, string, int) error { return nil }
func (g *reconGateway) SubmitMarketOrder(context.Context, string, domain.OrderSide, float64) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}
func (g *reconGateway) SubmitProtectiveOrder(context.Context, string, domain.OrderSide, domain.ProtectiveKind, float64, float64) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}

func (g *reconGateway) LivePositions(_ context.Context, symbol string) ([]domain.LivePosition, error) {
	if err := g.posErr[symbol]; err != nil {
		return nil, err
	}
	return g.positions[symbol], nil
}

func (g *reconGateway) RecentTrades(_ context.Context, symbol string, limit int) ([]domain.ExecutedTrade, error) {
	if g.tradesErr != nil {
		return nil, g.tradesErr
	}
	return g.trades[symbol], nil
}

type recordingRecorder struct {
	closed []domain.ClosedPosition
}

func (r *recordingRecorder) RecordClose(pos domain.ClosedPosition) {
	r.closed = append(r.closed, pos)
}

func newTestReconciler(l *Ledger, gw domain.ExchangeGateway, rec CloseRecorder) *Reconciler {
	return NewReconciler(l, gw, rec, nil, nil, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTickClosesFlattenedPosition(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionLong, 100, 83.33))

	gw := &reconGateway{
		positions: map[string][]domain.LivePosition{}, // absent: flattened
		trades: map[string][]domain.ExecutedTrade{
			"BTCUSDT": {
				{Side: domain.OrderSideSell, Price: 100.5, Timestamp: time.Now()},
				{Side: domain.OrderSideBuy, Price: 100, Timestamp: time.Now().Add(-time.Minute)},
			},
		},
	}
	rec := &recordingRecorder{}
	r := newTestReconciler(l, gw, rec)

	r.tick(context.Background())

	if l.HasOpen("BTCUSDT") {
		t.Fatal("expected position closed")
	}
	if len(rec.closed) != 1 {
		t.Fatalf("expected one recorded closure, got %d", len(rec.closed))
	}
	closed := rec.closed[0]
	if closed.ExitPrice != 100.5 {
		t.Errorf("expected exit 100.5 from the closing-side fill, got %f", closed.ExitPrice)
	}
	if math.Abs(closed.RealizedPnL-41.665) > 1e-6 {
		t.Errorf("expected pnl 41.665, got %f", closed.RealizedPnL)
	}
}

func TestTickRefreshesStillOpen(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionLong, 100, 2))

	gw := &reconGateway{
		positions: map[string][]domain.LivePosition{
			"BTCUSDT": {{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Size: 2, MarkPrice: 101}},
		},
	}
	rec := &recordingRecorder{}
	r := newTestReconciler(l, gw, rec)

	r.tick(context.Background())

	if !l.HasOpen("BTCUSDT") {
		t.Fatal("a still-open position must not be closed")
	}
	pos, _ := l.Get("BTCUSDT")
	if pos.MarkPrice != 101 {
		t.Errorf("expected mark refreshed to 101, got %f", pos.MarkPrice)
	}
	if math.Abs(pos.UnrealizedPnL-2) > 1e-9 {
		t.Errorf("expected unrealized pnl 2, got %f", pos.UnrealizedPnL)
	}
	if len(rec.closed) != 0 {
		t.Errorf("no closure expected, got %d", len(rec.closed))
	}
}

func TestExitPriceFallsBackToEntry(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionLong, 100, 1))

	// Trades unavailable: exit falls back to the entry price, pnl zero.
	gw := &reconGateway{
		positions: map[string][]domain.LivePosition{},
		tradesErr: errors.New("history endpoint down"),
	}
	rec := &recordingRecorder{}
	r := newTestReconciler(l, gw, rec)

	r.tick(context.Background())

	if len(rec.closed) != 1 {
		t.Fatalf("expected one closure, got %d", len(rec.closed))
	}
	if rec.closed[0].ExitPrice != 100 {
		t.Errorf("expected entry-price fallback, got %f", rec.closed[0].ExitPrice)
	}
	if rec.closed[0].RealizedPnL != 0 {
		t.Errorf("expected zero pnl on fallback, got %f", rec.closed[0].RealizedPnL)
	}
}

func TestExitPriceSkipsEntrySideFills(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("ETHUSDT", domain.DirectionShort, 100, 1))

	gw := &reconGateway{
		positions: map[string][]domain.LivePosition{},
		trades: map[string][]domain.ExecutedTrade{
			"ETHUSDT": {
				{Side: domain.OrderSideSell, Price: 99.9, Timestamp: time.Now()},
				{Side: domain.OrderSideBuy, Price: 99.5, Timestamp: time.Now().Add(-time.Second)},
			},
		},
	}
	rec := &recordingRecorder{}
	r := newTestReconciler(l, gw, rec)

	r.tick(context.Background())

	// A short closes with a BUY; the newer SELL fill is the entry side and
	// must be skipped.
	if len(rec.closed) != 1 {
		t.Fatalf("expected one closure, got %d", len(rec.closed))
	}
	if rec.closed[0].ExitPrice != 99.5 {
		t.Errorf("expected exit 99.5, got %f", rec.closed[0].ExitPrice)
	}
}

func TestTickIsolatesPerPositionFailures(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionLong, 100, 1))
	mustOpen(t, l, openPos("ETHUSDT", domain.DirectionLong, 50, 1))

	gw := &reconGateway{
		positions: map[string][]domain.LivePosition{},
		posErr:    map[string]error{"BTCUSDT": errors.New("timeout")},
		trades: map[string][]domain.ExecutedTrade{
			"ETHUSDT": {{Side: domain.OrderSideSell, Price: 51, Timestamp: time.Now()}},
		},
	}
	rec := &recordingRecorder{}
	r := newTestReconciler(l, gw, rec)

	r.tick(context.Background())

	// The failing symbol stays tracked for the next tick; the healthy one
	// still reconciles.
	if !l.HasOpen("BTCUSDT") {
		t.Error("failed symbol must remain open")
	}
	if l.HasOpen("ETHUSDT") {
		t.Error("healthy symbol must have been closed")
	}
	if len(rec.closed) != 1 || rec.closed[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT closure, got %+v", rec.closed)
	}
}

func TestRunStopsOnClose(t *testing.T) {
	l := New(3)
	gw := &reconGateway{positions: map[string][]domain.LivePosition{}}
	r := newTestReconciler(l, gw, &recordingRecorder{})

	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background())
	}()
	r.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
