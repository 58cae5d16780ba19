package parser

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

func newTestParser() *Parser {
	return New("", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseJSONBlock(t *testing.T) {
	p := newTestParser()
	raw := `SIGNAL detected
{"symbol": "btcusdt", "direction": "long", "signal_type": "breakout", "timestamp": "2026-03-10T12:00:00Z", "rsi": 71.5}`

	sig, ok := p.Parse(raw)
	if !ok {
		t.Fatal("expected a signal")
	}
	if sig.Symbol != "BTCUSDT" {
		t.Errorf("expected symbol BTCUSDT, got %s", sig.Symbol)
	}
	if sig.Direction != domain.DirectionLong {
		t.Errorf("expected direction LONG, got %s", sig.Direction)
	}
	if sig.SignalType != "BREAKOUT" {
		t.Errorf("expected signal type BREAKOUT, got %s", sig.SignalType)
	}
	expected := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	if !sig.Timestamp.Equal(expected) {
		t.Errorf("expected timestamp %s, got %s", expected, sig.Timestamp)
	}
	if sig.Stats["rsi"] != "71.5" {
		t.Errorf("expected rsi stat 71.5, got %q", sig.Stats["rsi"])
	}
}

func TestParseLabeledLines(t *testing.T) {
	p := newTestParser()
	raw := "New SIGNAL\nSymbol: ethusdt\nDirection: short\n"

	sig, ok := p.Parse(raw)
	if !ok {
		t.Fatal("expected a signal")
	}
	if sig.Symbol != "ETHUSDT" {
		t.Errorf("expected symbol ETHUSDT, got %s", sig.Symbol)
	}
	if sig.Direction != domain.DirectionShort {
		t.Errorf("expected direction SHORT, got %s", sig.Direction)
	}
	if sig.SignalType != "UNKNOWN" {
		t.Errorf("expected default signal type UNKNOWN, got %s", sig.SignalType)
	}
	if sig.Timestamp.IsZero() {
		t.Error("expected timestamp defaulted to parse time")
	}
}

func TestParseRejects(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name string
		raw  string
	}{
		{"no marker", "Symbol: BTCUSDT\nDirection: LONG"},
		{"marker only", "SIGNAL incoming, get ready"},
		{"marker with chatter", "that last SIGNAL was great, nice trade everyone"},
		{"invalid direction", "SIGNAL\nSymbol: BTCUSDT\nDirection: UP"},
		{"missing symbol", `SIGNAL {"direction": "LONG"}`},
		{"broken json falls through to no labels", `SIGNAL {"symbol": "BTCUSDT", `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := p.Parse(tt.raw); ok {
				t.Errorf("expected %q to be rejected", tt.raw)
			}
		})
	}
}

func TestParseCustomMarker(t *testing.T) {
	p := New("entry", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, ok := p.Parse("SIGNAL\nSymbol: BTCUSDT\nDirection: LONG"); ok {
		t.Error("default marker must not match a custom-marker parser")
	}
	sig, ok := p.Parse("ENTRY alert\nSymbol: BTCUSDT\nDirection: LONG")
	if !ok {
		t.Fatal("expected custom marker to match case-insensitively")
	}
	if sig.Symbol != "BTCUSDT" {
		t.Errorf("expected symbol BTCUSDT, got %s", sig.Symbol)
	}
}
