package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL. The in-memory
// ledger stays authoritative for live state; the journal is a write-behind
// record of closed trades.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a TradeJournal backed by the given connection pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

// RecordClose inserts one closed trade. Re-inserting the same position ID is
// a no-op, so a retried reconcile tick cannot double-count.
func (j *TradeJournal) RecordClose(ctx context.Context, pos domain.ClosedPosition) error {
	const query = `
		INSERT INTO closed_trades (
			position_id, symbol, direction,
			entry_price, exit_price, quantity,
			realized_pnl, realized_pnl_percent,
			opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (position_id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		pos.ID, pos.Symbol, string(pos.Direction),
		pos.EntryPrice, pos.ExitPrice, pos.Quantity,
		pos.RealizedPnL, pos.RealizedPnLPercent,
		pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record close %s: %w", pos.Symbol, err)
	}
	return nil
}

// SumPnLSince returns the total realized PnL of trades closed at or after the
// given time.
func (j *TradeJournal) SumPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var total *float64
	err := j.pool.QueryRow(ctx,
		"SELECT SUM(realized_pnl) FROM closed_trades WHERE closed_at >= $1",
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl since %s: %w", since.Format(time.RFC3339), err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*TradeJournal)(nil)
