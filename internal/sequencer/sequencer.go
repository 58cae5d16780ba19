// Package sequencer executes the ordered side-effecting steps that establish
// and protect a position: leverage, market entry, take-profit, stop-loss.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/risk"
)

// SetupError means leverage configuration failed before any order was placed.
type SetupError struct {
	Symbol string
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("sequencer: set leverage for %s: %v", e.Symbol, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// EntryError means the market entry order failed; no position was created.
type EntryError struct {
	Symbol string
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("sequencer: entry order for %s: %v", e.Symbol, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ProtectionError means the entry filled but a protective leg did not. The
// position is live on the exchange with incomplete protection; it must be
// tracked and the condition escalated, never rolled back or silently retried.
type ProtectionError struct {
	Symbol       string
	EntryOrderID string
	Leg          domain.ProtectiveKind
	Err          error
}

func (e *ProtectionError) Error() string {
	return fmt.Sprintf("sequencer: %s order for %s (entry %s): %v", e.Leg, e.Symbol, e.EntryOrderID, e.Err)
}

func (e *ProtectionError) Unwrap() error { return e.Err }

// Sequencer opens positions through the exchange gateway. In dry-run mode no
// exchange order calls are made; a synthetic position with sentinel order ids
// is produced and flows through the same ledger and reconciliation path.
type Sequencer struct {
	gateway domain.ExchangeGateway
	calc    risk.Calculator
	dryRun  bool
	logger  *slog.Logger
}

// New creates a Sequencer.
func New(gateway domain.ExchangeGateway, calc risk.Calculator, dryRun bool, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		gateway: gateway,
		calc:    calc,
		dryRun:  dryRun,
		logger:  logger.With(slog.String("component", "sequencer")),
	}
}

// OpenPosition sizes and opens a position for the signal. The balance passed
// in must be freshly fetched: sizing re-validates the margin against it at
// submission time, not only at the earlier validation step.
//
// Step order: set leverage (already-set is success), market entry,
// take-profit, stop-loss. Failure semantics: a *SetupError or *EntryError
// aborts with no position; a *ProtectionError is returned together with the
// live position, whose failed leg's order id is empty. When the take-profit
// leg fails the stop-loss is still attempted, so a position is never left
// unprotected on the losing side just because the target could not be placed.
func (s *Sequencer) OpenPosition(ctx context.Context, sig domain.Signal, balance, entryPrice float64, cons domain.InstrumentConstraints) (domain.OpenPosition, error) {
	params, err := s.calc.Compute(balance, entryPrice, sig.Direction, cons)
	if err != nil {
		return domain.OpenPosition{}, err
	}

	log := s.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("quantity", params.Quantity),
		slog.Float64("entry", params.EntryPrice),
		slog.Bool("dry_run", s.dryRun),
	)

	if s.dryRun {
		pos := s.syntheticPosition(sig, params)
		log.InfoContext(ctx, "dry-run position opened", slog.String("entry_order_id", pos.EntryOrderID))
		return pos, nil
	}

	if err := s.gateway.SetLeverage(ctx, sig.Symbol, params.Leverage); err != nil {
		if errors.Is(err, domain.ErrLeverageUnchanged) {
			log.DebugContext(ctx, "leverage already set", slog.Int("leverage", params.Leverage))
		} else {
			return domain.OpenPosition{}, &SetupError{Symbol: sig.Symbol, Err: err}
		}
	}

	entry, err := s.gateway.SubmitMarketOrder(ctx, sig.Symbol, sig.Direction.EntrySide(), params.Quantity)
	if err != nil {
		return domain.OpenPosition{}, &EntryError{Symbol: sig.Symbol, Err: err}
	}

	pos := domain.OpenPosition{
		ID:              uuid.New().String(),
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      params.EntryPrice,
		Quantity:        params.Quantity,
		TakeProfitPrice: params.TakeProfitPrice,
		StopLossPrice:   params.StopLossPrice,
		EntryOrderID:    entry.OrderID,
		OpenedAt:        time.Now().UTC(),
	}

	closeSide := sig.Direction.CloseSide()
	var protErr *ProtectionError

	tp, err := s.gateway.SubmitProtectiveOrder(ctx, sig.Symbol, closeSide, domain.ProtectiveTakeProfit, params.TakeProfitPrice, params.Quantity)
	if err != nil {
		protErr = &ProtectionError{Symbol: sig.Symbol, EntryOrderID: entry.OrderID, Leg: domain.ProtectiveTakeProfit, Err: err}
	} else {
		pos.TakeProfitOrderID = tp.OrderID
	}

	sl, err := s.gateway.SubmitProtectiveOrder(ctx, sig.Symbol, closeSide, domain.ProtectiveStopLoss, params.StopLossPrice, params.Quantity)
	if err != nil {
		if protErr == nil {
			protErr = &ProtectionError{Symbol: sig.Symbol, EntryOrderID: entry.OrderID, Leg: domain.ProtectiveStopLoss, Err: err}
		}
	} else {
		pos.StopLossOrderID = sl.OrderID
	}

	if protErr != nil {
		log.ErrorContext(ctx, "position live with incomplete protection",
			slog.String("entry_order_id", entry.OrderID),
			slog.String("failed_leg", string(protErr.Leg)),
			slog.String("error", protErr.Err.Error()),
		)
		return pos, protErr
	}

	log.InfoContext(ctx, "position opened",
		slog.String("entry_order_id", pos.EntryOrderID),
		slog.String("tp_order_id", pos.TakeProfitOrderID),
		slog.String("sl_order_id", pos.StopLossOrderID),
	)
	return pos, nil
}

// syntheticPosition builds the dry-run result with sentinel order ids.
func (s *Sequencer) syntheticPosition(sig domain.Signal, params domain.PositionParameters) domain.OpenPosition {
	return domain.OpenPosition{
		ID:                uuid.New().String(),
		Symbol:            sig.Symbol,
		Direction:         sig.Direction,
		EntryPrice:        params.EntryPrice,
		Quantity:          params.Quantity,
		TakeProfitPrice:   params.TakeProfitPrice,
		StopLossPrice:     params.StopLossPrice,
		EntryOrderID:      "dry-" + uuid.New().String(),
		TakeProfitOrderID: "dry-" + uuid.New().String(),
		StopLossOrderID:   "dry-" + uuid.New().String(),
		OpenedAt:          time.Now().UTC(),
	}
}
