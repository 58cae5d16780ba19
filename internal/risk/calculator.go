// Package risk implements fixed-fractional position sizing with percent-based
// stop and target prices.
package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// Calculator sizes positions so that a stop-out loses a fixed fraction of the
// account. It is pure: no exchange calls, deterministic given inputs.
type Calculator struct {
	RiskPercent       float64
	Leverage          int
	StopLossPercent   float64
	TakeProfitPercent float64
}

// Compute derives the full parameter set for a new position.
//
// Sizing targets riskAmount = balance * RiskPercent/100 lost at the stop. When
// the implied margin exceeds the balance, the notional is clamped to
// balance * leverage instead of failing. The final quantity is floored to the
// instrument's tick size and clamped into [MinQty, MaxQty]; prices are rounded
// to the instrument's price precision.
//
// Errors: domain.ErrInvalidInput for non-positive balance/price or an unknown
// direction, domain.ErrDegenerateStop when the stop collapses onto the entry,
// and domain.ErrInsufficientBalance when the margin for the minimum viable
// quantity still exceeds the balance.
func (c Calculator) Compute(balance, entryPrice float64, dir domain.Direction, cons domain.InstrumentConstraints) (domain.PositionParameters, error) {
	if balance <= 0 || entryPrice <= 0 || !dir.Valid() {
		return domain.PositionParameters{}, fmt.Errorf(
			"risk: balance=%.2f entry=%.4f direction=%q: %w",
			balance, entryPrice, dir, domain.ErrInvalidInput,
		)
	}
	if c.Leverage < 1 {
		return domain.PositionParameters{}, fmt.Errorf("risk: leverage %d: %w", c.Leverage, domain.ErrInvalidInput)
	}

	riskAmount := balance * c.RiskPercent / 100

	stopLoss := entryPrice * (1 - c.StopLossPercent/100)
	takeProfit := entryPrice * (1 + c.TakeProfitPercent/100)
	if dir == domain.DirectionShort {
		stopLoss = entryPrice * (1 + c.StopLossPercent/100)
		takeProfit = entryPrice * (1 - c.TakeProfitPercent/100)
	}

	stopDistance := math.Abs(entryPrice - stopLoss)
	if stopDistance <= 0 {
		return domain.PositionParameters{}, fmt.Errorf(
			"risk: stop %.4f equals entry %.4f: %w", stopLoss, entryPrice, domain.ErrDegenerateStop,
		)
	}

	notional := (riskAmount / stopDistance) * entryPrice
	leverage := float64(c.Leverage)

	// Use full available margin rather than refusing the trade outright.
	if notional/leverage > balance {
		notional = balance * leverage
	}

	quantity := notional / entryPrice

	quantity = RoundStep(quantity, cons.TickSize)
	stopLoss = RoundPrice(stopLoss, cons.PricePrecision)
	takeProfit = RoundPrice(takeProfit, cons.PricePrecision)
	entry := RoundPrice(entryPrice, cons.PricePrecision)

	if cons.MinQty > 0 && quantity < cons.MinQty {
		quantity = cons.MinQty
		notional = quantity * entry
	}
	if cons.MaxQty > 0 && quantity > cons.MaxQty {
		quantity = cons.MaxQty
		notional = quantity * entry
	}
	notional = quantity * entry

	requiredMargin := notional / leverage
	if requiredMargin > balance {
		return domain.PositionParameters{}, fmt.Errorf(
			"risk: margin %.2f exceeds balance %.2f: %w",
			requiredMargin, balance, domain.ErrInsufficientBalance,
		)
	}

	return domain.PositionParameters{
		EntryPrice:      entry,
		Quantity:        quantity,
		Notional:        notional,
		Leverage:        c.Leverage,
		RequiredMargin:  requiredMargin,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		RiskAmount:      riskAmount,
		Direction:       dir,
	}, nil
}

// RoundStep floors qty to a multiple of step. A non-positive step leaves qty
// untouched.
func RoundStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step+1e-9) * step
}

// RoundPrice rounds price to the given number of decimal places. Rounding a
// price already at that granularity is a no-op.
func RoundPrice(price float64, precision int) float64 {
	if precision < 0 {
		return price
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(price*scale) / scale
}
