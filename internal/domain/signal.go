package domain

import "time"

// Direction is the side of the market a signal wants exposure to.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseSide returns the order side that reduces a position in this direction.
// Protective orders and exit fills are always on this side.
func (d Direction) CloseSide() OrderSide {
	if d == DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Signal is a parsed directive to open a position. It is immutable once
// produced by the parser.
type Signal struct {
	Symbol     string
	Direction  Direction
	SignalType string
	Timestamp  time.Time
	Stats      map[string]string
}
