package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

func openPos(symbol string, dir domain.Direction, entry, qty float64) domain.OpenPosition {
	return domain.OpenPosition{
		ID:           symbol + "-1",
		Symbol:       symbol,
		Direction:    dir,
		EntryPrice:   entry,
		Quantity:     qty,
		EntryOrderID: "e-1",
		OpenedAt:     time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}
}

func mustOpen(t *testing.T, l *Ledger, pos domain.OpenPosition) {
	t.Helper()
	if err := l.Reserve(pos.Symbol); err != nil {
		t.Fatalf("Reserve %s: %v", pos.Symbol, err)
	}
	if err := l.Commit(pos); err != nil {
		t.Fatalf("Commit %s: %v", pos.Symbol, err)
	}
}

func TestReserveCommitRelease(t *testing.T) {
	l := New(3)

	if err := l.Reserve("BTCUSDT"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// The reserved symbol is blocked for a second attempt.
	if err := l.Reserve("BTCUSDT"); !errors.Is(err, domain.ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists for reserved symbol, got %v", err)
	}

	// Release frees the slot again.
	l.Release("BTCUSDT")
	if err := l.Reserve("BTCUSDT"); err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}

	if err := l.Commit(openPos("BTCUSDT", domain.DirectionLong, 100, 1)); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !l.HasOpen("BTCUSDT") {
		t.Error("expected open position after commit")
	}

	// Open blocks further reservations for the symbol.
	if err := l.Reserve("BTCUSDT"); !errors.Is(err, domain.ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists for open symbol, got %v", err)
	}
}

func TestCommitWithoutReservation(t *testing.T) {
	l := New(3)
	err := l.Commit(openPos("BTCUSDT", domain.DirectionLong, 100, 1))
	if !errors.Is(err, domain.ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestMaxPositionsCountsReservations(t *testing.T) {
	l := New(2)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionLong, 100, 1))

	if err := l.Reserve("ETHUSDT"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// One open plus one reservation hits the limit of two.
	if err := l.Reserve("SOLUSDT"); !errors.Is(err, domain.ErrMaxPositions) {
		t.Fatalf("expected ErrMaxPositions, got %v", err)
	}
	if l.OpenCount() != 1 {
		t.Errorf("reservations must not count as open, got %d", l.OpenCount())
	}
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	l := New(5)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Reserve("BTCUSDT")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful reservation, got %d", wins)
	}
}

func TestCloseLong(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionLong, 100, 83.33))

	closedAt := time.Date(2026, time.March, 10, 12, 30, 0, 0, time.UTC)
	closed, err := l.Close("BTCUSDT", 100.5, closedAt)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if math.Abs(closed.RealizedPnL-41.665) > 1e-6 {
		t.Errorf("expected pnl 41.665, got %f", closed.RealizedPnL)
	}
	if math.Abs(closed.RealizedPnLPercent-0.5) > 1e-9 {
		t.Errorf("expected pnl percent 0.5, got %f", closed.RealizedPnLPercent)
	}
	if closed.DurationSeconds != 1800 {
		t.Errorf("expected duration 1800s, got %f", closed.DurationSeconds)
	}

	if l.HasOpen("BTCUSDT") {
		t.Error("closed position must leave the open set")
	}
	if len(l.History()) != 1 {
		t.Errorf("expected one history entry, got %d", len(l.History()))
	}

	// Closure is terminal.
	if _, err := l.Close("BTCUSDT", 101, closedAt); !errors.Is(err, domain.ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound on double close, got %v", err)
	}

	// The slot is free for a new instance.
	if err := l.Reserve("BTCUSDT"); err != nil {
		t.Fatalf("Reserve after close: %v", err)
	}
}

func TestCloseShortNegatesPnL(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("ETHUSDT", domain.DirectionShort, 100, 10))

	closed, err := l.Close("ETHUSDT", 101, time.Now().UTC())
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if math.Abs(closed.RealizedPnL-(-10)) > 1e-9 {
		t.Errorf("expected pnl -10 for a short closed higher, got %f", closed.RealizedPnL)
	}
	if math.Abs(closed.RealizedPnLPercent-(-1)) > 1e-9 {
		t.Errorf("expected pnl percent -1, got %f", closed.RealizedPnLPercent)
	}
}

func TestRefreshMark(t *testing.T) {
	l := New(3)
	mustOpen(t, l, openPos("BTCUSDT", domain.DirectionShort, 100, 2))

	l.RefreshMark("BTCUSDT", 99)
	pos, ok := l.Get("BTCUSDT")
	if !ok {
		t.Fatal("expected open position")
	}
	if pos.MarkPrice != 99 {
		t.Errorf("expected mark 99, got %f", pos.MarkPrice)
	}
	if math.Abs(pos.UnrealizedPnL-2) > 1e-9 {
		t.Errorf("expected unrealized pnl 2 for a short marked lower, got %f", pos.UnrealizedPnL)
	}

	// Unknown symbols and non-positive marks are ignored.
	l.RefreshMark("ETHUSDT", 100)
	l.RefreshMark("BTCUSDT", 0)
	pos, _ = l.Get("BTCUSDT")
	if pos.MarkPrice != 99 {
		t.Errorf("zero mark must be ignored, got %f", pos.MarkPrice)
	}
}
