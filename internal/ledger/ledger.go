// Package ledger is the in-memory authoritative record of positions tracked
// by this process. It owns the per-symbol state machine: no position, open,
// closed. Closure is terminal; a fresh open for the same symbol is a new
// instance.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// Ledger serializes every check-then-act sequence under one mutex, so a
// "does an open position exist" check and the matching insert can never race
// across concurrent signal deliveries.
//
// Opening a position is a two-phase operation: Reserve claims the symbol slot
// before any order is placed, Commit fills it in on success, Release abandons
// it on failure. Reservations count against the global open-position limit.
type Ledger struct {
	mu       sync.Mutex
	maxOpen  int
	open     map[string]*domain.OpenPosition
	reserved map[string]struct{}
	history  []domain.ClosedPosition
}

// New creates a Ledger that admits at most maxOpen concurrent positions.
func New(maxOpen int) *Ledger {
	return &Ledger{
		maxOpen:  maxOpen,
		open:     make(map[string]*domain.OpenPosition),
		reserved: make(map[string]struct{}),
	}
}

// Reserve atomically claims the symbol slot for an open attempt. It fails
// with domain.ErrPositionExists when the symbol already has an open position
// or an in-flight reservation, and with domain.ErrMaxPositions when the
// global limit is reached.
func (l *Ledger) Reserve(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.open[symbol]; ok {
		return fmt.Errorf("ledger: reserve %s: %w", symbol, domain.ErrPositionExists)
	}
	if _, ok := l.reserved[symbol]; ok {
		return fmt.Errorf("ledger: reserve %s: %w", symbol, domain.ErrPositionExists)
	}
	if len(l.open)+len(l.reserved) >= l.maxOpen {
		return fmt.Errorf("ledger: reserve %s: %w", symbol, domain.ErrMaxPositions)
	}
	l.reserved[symbol] = struct{}{}
	return nil
}

// Commit converts a reservation into an open position.
func (l *Ledger) Commit(pos domain.OpenPosition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reserved[pos.Symbol]; !ok {
		return fmt.Errorf("ledger: commit %s without reservation: %w", pos.Symbol, domain.ErrPositionNotFound)
	}
	delete(l.reserved, pos.Symbol)
	p := pos
	l.open[pos.Symbol] = &p
	return nil
}

// Release abandons a reservation after a failed open attempt. Releasing a
// symbol that is not reserved is a no-op.
func (l *Ledger) Release(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, symbol)
}

// HasOpen reports whether the symbol currently has an open position.
func (l *Ledger) HasOpen(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[symbol]
	return ok
}

// OpenCount returns the number of open positions, excluding reservations.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

// Get returns a copy of the open position for the symbol.
func (l *Ledger) Get(symbol string) (domain.OpenPosition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[symbol]
	if !ok {
		return domain.OpenPosition{}, false
	}
	return *p, true
}

// OpenPositions returns copies of all open positions.
func (l *Ledger) OpenPositions() []domain.OpenPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.OpenPosition, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	return out
}

// RefreshMark updates the transient mark price and unrealized PnL of an open
// position. Defining fields are never touched.
func (l *Ledger) RefreshMark(symbol string, markPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[symbol]
	if !ok || markPrice <= 0 {
		return
	}
	p.MarkPrice = markPrice
	diff := markPrice - p.EntryPrice
	if p.Direction == domain.DirectionShort {
		diff = -diff
	}
	p.UnrealizedPnL = diff * p.Quantity
}

// Close transitions the symbol's open position to closed, computing realized
// PnL from the exit price, and appends it to history. The transition is
// one-directional; the open slot becomes free for a future signal.
func (l *Ledger) Close(symbol string, exitPrice float64, closedAt time.Time) (domain.ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.open[symbol]
	if !ok {
		return domain.ClosedPosition{}, fmt.Errorf("ledger: close %s: %w", symbol, domain.ErrPositionNotFound)
	}

	diff := exitPrice - p.EntryPrice
	if p.Direction == domain.DirectionShort {
		diff = -diff
	}

	closed := domain.ClosedPosition{
		OpenPosition:    *p,
		ExitPrice:       exitPrice,
		RealizedPnL:     diff * p.Quantity,
		DurationSeconds: closedAt.Sub(p.OpenedAt).Seconds(),
		ClosedAt:        closedAt,
	}
	if p.EntryPrice > 0 {
		closed.RealizedPnLPercent = diff / p.EntryPrice * 100
	}

	delete(l.open, symbol)
	l.history = append(l.history, closed)
	return closed, nil
}

// History returns a copy of the closed-position history, oldest first.
func (l *Ledger) History() []domain.ClosedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ClosedPosition, len(l.history))
	copy(out, l.history)
	return out
}
