package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/risk"
)

// scriptedGateway records call order and fails the steps it is told to.
type scriptedGateway struct {
	calls []string

	leverageErr error
	entryErr    error
	tpErr       error
	slErr       error
}

func (g *scriptedGateway) Balance(context.Context) (float64, error) { return 1000, nil }
func (g *scriptedGateway) Instrument(context.Context, string) (domain.InstrumentConstraints, error) {
	return domain.InstrumentConstraints{}, nil
}
func (g *scriptedGateway) Price(context.Context, string) (float64, error) { return 100, nil }

func (g *scriptedGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	g.calls = append(g.calls, "leverage")
	return g.leverageErr
}

func (g *scriptedGateway) SubmitMarketOrder(_ context.Context, symbol string, side domain.OrderSide, qty float64) (domain.OrderAck, error) {
	g.calls = append(g.calls, fmt.Sprintf("entry:%s", side))
	if g.entryErr != nil {
		return domain.OrderAck{}, g.entryErr
	}
	return domain.OrderAck{OrderID: "entry-1"}, nil
}

func (g *scriptedGateway) SubmitProtectiveOrder(_ context.Context, symbol string, side domain.OrderSide, kind domain.ProtectiveKind, triggerPrice, qty float64) (domain.OrderAck, error) {
	g.calls = append(g.calls, fmt.Sprintf("%s:%s", kind, side))
	switch kind {
	case domain.ProtectiveTakeProfit:
		if g.tpErr != nil {
			return domain.OrderAck{}, g.tpErr
		}
		return domain.OrderAck{OrderID: "tp-1"}, nil
	default:
		if g.slErr != nil {
			return domain.OrderAck{}, g.slErr
		}
		return domain.OrderAck{OrderID: "sl-1"}, nil
	}
}

func (g *scriptedGateway) LivePositions(context.Context, string) ([]domain.LivePosition, error) {
	return nil, nil
}
func (g *scriptedGateway) RecentTrades(context.Context, string, int) ([]domain.ExecutedTrade, error) {
	return nil, nil
}

var testCalc = risk.Calculator{RiskPercent: 2.5, Leverage: 20, StopLossPercent: 0.3, TakeProfitPercent: 0.5}

var testCons = domain.InstrumentConstraints{
	Symbol:         "BTCUSDT",
	TickSize:       0.01,
	MinQty:         0.01,
	MaxQty:         1_000_000,
	PricePrecision: 2,
	Tradable:       true,
}

func newTestSequencer(gw domain.ExchangeGateway, dryRun bool) *Sequencer {
	return New(gw, testCalc, dryRun, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func longSignal() domain.Signal {
	return domain.Signal{Symbol: "BTCUSDT", Direction: domain.DirectionLong}
}

func TestOpenPositionHappyPath(t *testing.T) {
	gw := &scriptedGateway{}
	seq := newTestSequencer(gw, false)

	pos, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	expected := []string{"leverage", "entry:BUY", "take_profit:SELL", "stop_loss:SELL"}
	if len(gw.calls) != len(expected) {
		t.Fatalf("expected calls %v, got %v", expected, gw.calls)
	}
	for i, c := range expected {
		if gw.calls[i] != c {
			t.Errorf("call %d: expected %s, got %s", i, c, gw.calls[i])
		}
	}

	if pos.EntryOrderID != "entry-1" || pos.TakeProfitOrderID != "tp-1" || pos.StopLossOrderID != "sl-1" {
		t.Errorf("unexpected order ids: %+v", pos)
	}
	if pos.ID == "" {
		t.Error("expected a position id")
	}
	if pos.OpenedAt.IsZero() {
		t.Error("expected OpenedAt to be set")
	}
}

func TestOpenPositionLeverageAlreadySet(t *testing.T) {
	gw := &scriptedGateway{
		leverageErr: fmt.Errorf("toobit: set leverage: %w", domain.ErrLeverageUnchanged),
	}
	seq := newTestSequencer(gw, false)

	if _, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons); err != nil {
		t.Fatalf("already-set leverage must be treated as success, got %v", err)
	}
}

func TestOpenPositionSetupError(t *testing.T) {
	gw := &scriptedGateway{leverageErr: errors.New("venue error")}
	seq := newTestSequencer(gw, false)

	_, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons)
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("expected *SetupError, got %v", err)
	}
	if len(gw.calls) != 1 {
		t.Errorf("no order may be placed after a setup failure, calls: %v", gw.calls)
	}
}

func TestOpenPositionEntryError(t *testing.T) {
	gw := &scriptedGateway{entryErr: errors.New("rejected")}
	seq := newTestSequencer(gw, false)

	_, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons)
	var entryErr *EntryError
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected *EntryError, got %v", err)
	}
	for _, c := range gw.calls {
		if strings.HasPrefix(c, "take_profit") || strings.HasPrefix(c, "stop_loss") {
			t.Errorf("no protective order may follow a failed entry, calls: %v", gw.calls)
		}
	}
}

func TestOpenPositionTakeProfitFails(t *testing.T) {
	gw := &scriptedGateway{tpErr: errors.New("rejected")}
	seq := newTestSequencer(gw, false)

	pos, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons)
	var protErr *ProtectionError
	if !errors.As(err, &protErr) {
		t.Fatalf("expected *ProtectionError, got %v", err)
	}
	if protErr.Leg != domain.ProtectiveTakeProfit {
		t.Errorf("expected failed leg take_profit, got %s", protErr.Leg)
	}
	if protErr.EntryOrderID != "entry-1" {
		t.Errorf("expected entry order id on error, got %q", protErr.EntryOrderID)
	}

	// The stop-loss must still have been attempted and recorded.
	if pos.StopLossOrderID != "sl-1" {
		t.Errorf("expected stop loss placed despite take-profit failure, got %+v", pos)
	}
	if pos.TakeProfitOrderID != "" {
		t.Errorf("failed leg must leave an empty order id, got %q", pos.TakeProfitOrderID)
	}
	if pos.EntryOrderID != "entry-1" {
		t.Errorf("the live position must be returned alongside the error, got %+v", pos)
	}
}

func TestOpenPositionStopLossFails(t *testing.T) {
	gw := &scriptedGateway{slErr: errors.New("rejected")}
	seq := newTestSequencer(gw, false)

	pos, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons)
	var protErr *ProtectionError
	if !errors.As(err, &protErr) {
		t.Fatalf("expected *ProtectionError, got %v", err)
	}
	if protErr.Leg != domain.ProtectiveStopLoss {
		t.Errorf("expected failed leg stop_loss, got %s", protErr.Leg)
	}
	if pos.TakeProfitOrderID != "tp-1" {
		t.Errorf("expected take profit recorded, got %+v", pos)
	}
	if pos.StopLossOrderID != "" {
		t.Errorf("failed leg must leave an empty order id, got %q", pos.StopLossOrderID)
	}
}

func TestOpenPositionInsufficientBalance(t *testing.T) {
	gw := &scriptedGateway{}
	seq := newTestSequencer(gw, false)
	cons := testCons
	cons.MinQty = 1_000_000
	cons.MaxQty = 2_000_000

	_, err := seq.OpenPosition(context.Background(), longSignal(), 100, 100, cons)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Errorf("sizing failures must not touch the gateway, calls: %v", gw.calls)
	}
}

func TestOpenPositionDryRun(t *testing.T) {
	gw := &scriptedGateway{}
	seq := newTestSequencer(gw, true)

	pos, err := seq.OpenPosition(context.Background(), longSignal(), 1000, 100, testCons)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if len(gw.calls) != 0 {
		t.Errorf("dry run must not touch the gateway, calls: %v", gw.calls)
	}
	for _, id := range []string{pos.EntryOrderID, pos.TakeProfitOrderID, pos.StopLossOrderID} {
		if !strings.HasPrefix(id, "dry-") {
			t.Errorf("expected sentinel dry- order id, got %q", id)
		}
	}
	if math.Abs(pos.Quantity-83.33) > 1e-6 {
		t.Errorf("dry run must size exactly like a live run, got qty %f", pos.Quantity)
	}
}
