// Package orchestrator runs the signal-to-position pipeline: raw text in,
// open position in the ledger out.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/ledger"
	"github.com/alanyoungcy/signalbot/internal/parser"
	"github.com/alanyoungcy/signalbot/internal/sequencer"
	"github.com/alanyoungcy/signalbot/internal/stats"
	"github.com/alanyoungcy/signalbot/internal/validator"
)

// eventsChannel is the bus channel operator events are published on.
const eventsChannel = "notifications"

// Config holds orchestrator tunables.
type Config struct {
	// AuditStream is the durable stream accepted signals are appended to.
	// Empty disables the audit trail.
	AuditStream string
	// DedupTTL bounds how long an identical raw payload is suppressed.
	DedupTTL time.Duration
}

// Orchestrator consumes raw message text from a channel and drives each
// candidate through dedup, parsing, validation, sizing, order sequencing, and
// ledger insertion. The ledger reservation is taken before any exchange call,
// so two concurrent signals for one symbol can never both open.
type Orchestrator struct {
	cfg       Config
	rawCh     <-chan string
	parser    *parser.Parser
	validator *validator.Validator
	sequencer *sequencer.Sequencer
	gateway   domain.ExchangeGateway
	ledger    *ledger.Ledger
	stats     *stats.Aggregator
	bus       domain.SignalBus // optional
	dedup     *Dedup
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// New creates an Orchestrator. bus may be nil; events and the audit trail are
// then skipped.
func New(
	cfg Config,
	rawCh <-chan string,
	p *parser.Parser,
	v *validator.Validator,
	seq *sequencer.Sequencer,
	gateway domain.ExchangeGateway,
	l *ledger.Ledger,
	agg *stats.Aggregator,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	return &Orchestrator{
		cfg:             cfg,
		rawCh:           rawCh,
		parser:          p,
		validator:       v,
		sequencer:       seq,
		gateway:         gateway,
		ledger:          l,
		stats:           agg,
		bus:             bus,
		dedup:           NewDedup(cfg.DedupTTL),
		logger:          logger.With(slog.String("component", "orchestrator")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run processes inbound messages until the context is cancelled or the
// channel closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started")
	defer o.logger.Info("orchestrator stopped")

	cleanupTicker := time.NewTicker(o.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-o.rawCh:
			if !ok {
				return nil
			}
			o.process(ctx, raw)
		case <-cleanupTicker.C:
			o.dedup.Cleanup()
		}
	}
}

// process handles one raw message end to end.
func (o *Orchestrator) process(ctx context.Context, raw string) {
	if o.dedup.IsDuplicate(raw) {
		o.logger.Debug("duplicate message suppressed")
		return
	}

	sig, ok := o.parser.Parse(raw)
	if !ok {
		return
	}
	o.stats.RecordSignal()

	log := o.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.String("signal_type", sig.SignalType),
	)

	rej, err := o.validator.Validate(ctx, sig)
	if err != nil {
		log.WarnContext(ctx, "validation aborted", slog.String("error", err.Error()))
		return
	}
	if rej != nil {
		o.stats.RecordIgnored()
		o.publish(ctx, domain.Event{
			Type:    domain.EventSignalIgnored,
			Title:   fmt.Sprintf("Signal ignored: %s %s", sig.Symbol, sig.Direction),
			Message: rej.Reason,
			At:      time.Now().UTC(),
		})
		return
	}

	if err := o.ledger.Reserve(sig.Symbol); err != nil {
		// A concurrent signal won the slot between validation and here.
		log.WarnContext(ctx, "ledger reservation failed", slog.String("error", err.Error()))
		o.stats.RecordIgnored()
		return
	}

	pos, err := o.openReserved(ctx, sig)
	var protErr *sequencer.ProtectionError
	switch {
	case err == nil:
		o.committed(ctx, sig, pos)

	case errors.As(err, &protErr):
		// The entry filled; the position is real and must be tracked even
		// though protection is incomplete. Escalate loudly.
		o.committed(ctx, sig, pos)
		log.ErrorContext(ctx, "protection incomplete, manual attention required",
			slog.String("entry_order_id", protErr.EntryOrderID),
			slog.String("failed_leg", string(protErr.Leg)),
		)
		o.publish(ctx, domain.Event{
			Type:  domain.EventProtectionIncomplete,
			Title: fmt.Sprintf("UNPROTECTED POSITION: %s %s", sig.Symbol, sig.Direction),
			Message: fmt.Sprintf("entry order %s filled but %s placement failed: %v",
				protErr.EntryOrderID, protErr.Leg, protErr.Err),
			At: time.Now().UTC(),
		})

	default:
		o.ledger.Release(sig.Symbol)
		log.WarnContext(ctx, "open attempt failed", slog.String("error", err.Error()))
	}
}

// openReserved fetches fresh exchange state and runs the order sequence. The
// caller already holds the ledger reservation.
func (o *Orchestrator) openReserved(ctx context.Context, sig domain.Signal) (domain.OpenPosition, error) {
	balance, err := o.gateway.Balance(ctx)
	if err != nil {
		return domain.OpenPosition{}, fmt.Errorf("orchestrator: fetch balance: %w", err)
	}
	price, err := o.gateway.Price(ctx, sig.Symbol)
	if err != nil {
		return domain.OpenPosition{}, fmt.Errorf("orchestrator: fetch price %s: %w", sig.Symbol, err)
	}
	cons, err := o.gateway.Instrument(ctx, sig.Symbol)
	if err != nil {
		return domain.OpenPosition{}, fmt.Errorf("orchestrator: fetch instrument %s: %w", sig.Symbol, err)
	}
	return o.sequencer.OpenPosition(ctx, sig, balance, price, cons)
}

// committed records a successful (or partially protected) open: ledger
// commit, counters, audit trail, and the opened event.
func (o *Orchestrator) committed(ctx context.Context, sig domain.Signal, pos domain.OpenPosition) {
	if err := o.ledger.Commit(pos); err != nil {
		// Should be unreachable while the reservation is held.
		o.logger.ErrorContext(ctx, "ledger commit failed",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	o.stats.RecordOpen()

	o.publish(ctx, domain.Event{
		Type:  domain.EventPositionOpened,
		Title: fmt.Sprintf("Position opened: %s %s", pos.Symbol, pos.Direction),
		Message: fmt.Sprintf("entry %.4f qty %.4f tp %.4f sl %.4f",
			pos.EntryPrice, pos.Quantity, pos.TakeProfitPrice, pos.StopLossPrice),
		At: pos.OpenedAt,
	})
	o.audit(ctx, sig, pos)
}

func (o *Orchestrator) publish(ctx context.Context, ev domain.Event) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, eventsChannel, payload); err != nil {
		o.logger.DebugContext(ctx, "event publish failed", slog.String("error", err.Error()))
	}
}

// audit appends the accepted signal and resulting position to the durable
// stream.
func (o *Orchestrator) audit(ctx context.Context, sig domain.Signal, pos domain.OpenPosition) {
	if o.bus == nil || o.cfg.AuditStream == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"symbol":         pos.Symbol,
		"direction":      pos.Direction,
		"signal_type":    sig.SignalType,
		"signal_time":    sig.Timestamp,
		"position_id":    pos.ID,
		"entry_order_id": pos.EntryOrderID,
		"entry_price":    pos.EntryPrice,
		"quantity":       pos.Quantity,
		"opened_at":      pos.OpenedAt,
	})
	if err != nil {
		return
	}
	if err := o.bus.StreamAppend(ctx, o.cfg.AuditStream, payload); err != nil {
		o.logger.DebugContext(ctx, "audit append failed", slog.String("error", err.Error()))
	}
}
