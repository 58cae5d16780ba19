package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ProtectiveKind distinguishes the two reduce-only protective order legs.
type ProtectiveKind string

const (
	ProtectiveTakeProfit ProtectiveKind = "take_profit"
	ProtectiveStopLoss   ProtectiveKind = "stop_loss"
)

// OrderAck is the exchange acknowledgement of a submitted order.
type OrderAck struct {
	OrderID string
}

// LivePosition is an exchange-reported position snapshot. Size is zero or the
// symbol is absent entirely once the position has been flattened.
type LivePosition struct {
	Symbol        string
	Side          OrderSide
	Size          float64
	AvgPrice      float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// ExecutedTrade is a single fill from the account's trade history.
type ExecutedTrade struct {
	Side      OrderSide
	Price     float64
	Timestamp time.Time
}

// ExchangeGateway is the venue-facing contract consumed by the trading core.
//
// SetLeverage returns an error wrapping ErrLeverageUnchanged when the symbol
// is already at the requested leverage; callers treat that as success.
// RecentTrades returns fills newest first.
type ExchangeGateway interface {
	Balance(ctx context.Context) (float64, error)
	Instrument(ctx context.Context, symbol string) (InstrumentConstraints, error)
	Price(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SubmitMarketOrder(ctx context.Context, symbol string, side OrderSide, qty float64) (OrderAck, error)
	SubmitProtectiveOrder(ctx context.Context, symbol string, side OrderSide, kind ProtectiveKind, triggerPrice, qty float64) (OrderAck, error)
	LivePositions(ctx context.Context, symbol string) ([]LivePosition, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]ExecutedTrade, error)
}
