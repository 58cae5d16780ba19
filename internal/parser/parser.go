// Package parser turns raw inbound message text into structured signals.
// Most messages on the feed are not signals; rejecting them is the normal
// path and is never reported as an error.
package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// DefaultMarker is the token a message must carry to be considered a signal
// candidate at all.
const DefaultMarker = "SIGNAL"

// Parser extracts signals from raw text. Two strategies are tried in order:
// an embedded JSON block, then labeled "Symbol:" / "Direction:" lines.
type Parser struct {
	marker string
	logger *slog.Logger
}

// New creates a Parser. An empty marker falls back to DefaultMarker.
func New(marker string, logger *slog.Logger) *Parser {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Parser{
		marker: strings.ToUpper(marker),
		logger: logger.With(slog.String("component", "parser")),
	}
}

// Parse returns the signal carried by raw, or ok=false when the text is not a
// recognizable signal. Symbol and direction are uppercase-normalized; the
// signal type defaults to UNKNOWN and the timestamp to parse time when the
// payload does not carry them.
func (p *Parser) Parse(raw string) (domain.Signal, bool) {
	if !strings.Contains(strings.ToUpper(raw), p.marker) {
		return domain.Signal{}, false
	}

	sig, ok := p.parseJSONBlock(raw)
	if !ok {
		sig, ok = p.parseLabeledLines(raw)
	}
	if !ok {
		p.logger.Debug("marker present but no extractable signal fields")
		return domain.Signal{}, false
	}

	if sig.SignalType == "" {
		sig.SignalType = "UNKNOWN"
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	return sig, true
}

// parseJSONBlock extracts the first {...} block from the text and requires it
// to carry at least symbol and direction.
func (p *Parser) parseJSONBlock(raw string) (domain.Signal, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.Signal{}, false
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		p.logger.Debug("embedded block is not valid JSON", slog.String("error", err.Error()))
		return domain.Signal{}, false
	}

	symbol := strings.ToUpper(strings.TrimSpace(stringField(fields, "symbol")))
	direction := domain.Direction(strings.ToUpper(strings.TrimSpace(stringField(fields, "direction"))))
	if symbol == "" || !direction.Valid() {
		return domain.Signal{}, false
	}

	sig := domain.Signal{
		Symbol:     symbol,
		Direction:  direction,
		SignalType: strings.ToUpper(strings.TrimSpace(stringField(fields, "signal_type"))),
		Stats:      map[string]string{},
	}
	if ts := stringField(fields, "timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			sig.Timestamp = t.UTC()
		}
	}
	for k, v := range fields {
		switch k {
		case "symbol", "direction", "signal_type", "timestamp":
		default:
			sig.Stats[k] = fmt.Sprint(v)
		}
	}
	return sig, true
}

// parseLabeledLines is the free-text fallback: one "Symbol:" line and one
// "Direction:" line carrying LONG or SHORT.
func (p *Parser) parseLabeledLines(raw string) (domain.Signal, bool) {
	var symbol string
	var direction domain.Direction

	for _, line := range strings.Split(raw, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "symbol":
			symbol = strings.ToUpper(value)
		case "direction":
			d := domain.Direction(strings.ToUpper(value))
			if d.Valid() {
				direction = d
			}
		}
	}

	if symbol == "" || !direction.Valid() {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Symbol:    symbol,
		Direction: direction,
		Stats:     map[string]string{},
	}, true
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return s
}
