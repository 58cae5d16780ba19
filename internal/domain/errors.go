package domain

import "errors"

var (
	// Sizing failures. All abort before any exchange call.
	ErrInvalidInput        = errors.New("invalid sizing input")
	ErrDegenerateStop      = errors.New("stop distance is zero")
	ErrInsufficientBalance = errors.New("insufficient balance for required margin")

	// Ledger admission failures.
	ErrPositionExists   = errors.New("open position exists for symbol")
	ErrPositionNotFound = errors.New("position not found")
	ErrMaxPositions     = errors.New("max open positions reached")

	// Exchange conditions.
	ErrLeverageUnchanged = errors.New("leverage already set")
	ErrNotTradable       = errors.New("instrument not tradable")
	ErrRateLimited       = errors.New("rate limited")
)
