package domain

import (
	"context"
	"time"
)

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for inbound raw signal text and outbound events,
// plus durable streams for the accepted-signal audit trail.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter gates outbound exchange calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// TradeJournal is the optional append-only record of closed positions. It is
// write-only from the core's perspective; nothing is restored from it on
// startup.
type TradeJournal interface {
	RecordClose(ctx context.Context, pos ClosedPosition) error
	SumPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// EventType classifies outbound operator notifications.
type EventType string

const (
	EventPositionOpened       EventType = "position_opened"
	EventPositionClosed       EventType = "position_closed"
	EventSignalIgnored        EventType = "signal_ignored"
	EventProtectionIncomplete EventType = "protection_incomplete"
	EventDailyReport          EventType = "daily_report"
)

// Event is an operator-facing notification published on the bus and fanned
// out by the notifier.
type Event struct {
	Type    EventType `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
