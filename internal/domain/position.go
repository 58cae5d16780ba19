package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// InstrumentConstraints are the exchange-reported trading limits for a symbol.
// They are fetched fresh for every sizing call; limits can change intraday.
type InstrumentConstraints struct {
	Symbol         string
	TickSize       float64 // quantity step
	MinQty         float64
	MaxQty         float64
	PricePrecision int // decimal places for price rounding
	Tradable       bool
}

// PositionParameters is the output of the sizing step. All prices and the
// quantity are already rounded to the instrument constraints.
type PositionParameters struct {
	EntryPrice      float64
	Quantity        float64
	Notional        float64
	Leverage        int
	RequiredMargin  float64
	StopLossPrice   float64
	TakeProfitPrice float64
	RiskAmount      float64
	Direction       Direction
}

// OpenPosition is a live position tracked by the ledger. At most one instance
// exists per symbol. Defining fields are immutable after creation; only
// MarkPrice and UnrealizedPnL are refreshed while the position stays open.
//
// A protective order id may be empty when that leg failed after the entry was
// already filled. That is a documented intermediate state, not corruption.
type OpenPosition struct {
	ID                string
	Symbol            string
	Direction         Direction
	EntryPrice        float64
	Quantity          float64
	TakeProfitPrice   float64
	StopLossPrice     float64
	EntryOrderID      string
	TakeProfitOrderID string
	StopLossOrderID   string
	MarkPrice         float64
	UnrealizedPnL     float64
	OpenedAt          time.Time
}

// ClosedPosition is the terminal record of a position. Append-only history;
// never mutated after creation.
type ClosedPosition struct {
	OpenPosition
	ExitPrice          float64
	RealizedPnL        float64
	RealizedPnLPercent float64
	DurationSeconds    float64
	ClosedAt           time.Time
}

// Statistics is a point-in-time snapshot of the session counters.
type Statistics struct {
	TotalSignals     int
	SignalsIgnored   int
	TotalTrades      int
	WinTrades        int
	LoseTrades       int
	TotalRealizedPnL float64
	DailyTrades      int
	StartBalance     float64
	LastResetDate    time.Time
}
