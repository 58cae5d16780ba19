// Package stats accumulates session and daily trading counters.
package stats

import (
	"sync"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// Aggregator is the single writer for process-wide statistics. Daily counters
// reset when the UTC calendar date changes; the rollover is checked on every
// mutation and on snapshot, independent of any polling period.
//
// A closure counts as a win when its realized PnL is zero or positive.
type Aggregator struct {
	mu sync.Mutex

	totalSignals   int
	signalsIgnored int
	totalTrades    int
	winTrades      int
	loseTrades     int
	totalPnL       float64
	dailyTrades    int
	startBalance   float64
	lastReset      time.Time

	now func() time.Time
}

// New creates an Aggregator. startBalance is the account balance observed at
// process start, kept for reporting.
func New(startBalance float64) *Aggregator {
	a := &Aggregator{
		startBalance: startBalance,
		now:          time.Now,
	}
	a.lastReset = dateOf(a.now())
	return a
}

// RecordSignal counts a parsed inbound signal.
func (a *Aggregator) RecordSignal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	a.totalSignals++
}

// RecordIgnored counts a signal rejected by validation.
func (a *Aggregator) RecordIgnored() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	a.signalsIgnored++
}

// RecordOpen counts a newly opened position against the daily trade limit.
func (a *Aggregator) RecordOpen() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	a.dailyTrades++
}

// RecordClose counts a completed trade from a ledger closure.
func (a *Aggregator) RecordClose(pos domain.ClosedPosition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	a.totalTrades++
	a.totalPnL += pos.RealizedPnL
	if pos.RealizedPnL >= 0 {
		a.winTrades++
	} else {
		a.loseTrades++
	}
}

// DailyTrades returns today's trade count.
func (a *Aggregator) DailyTrades() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	return a.dailyTrades
}

// Snapshot returns a copy of all counters.
func (a *Aggregator) Snapshot() domain.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	return domain.Statistics{
		TotalSignals:     a.totalSignals,
		SignalsIgnored:   a.signalsIgnored,
		TotalTrades:      a.totalTrades,
		WinTrades:        a.winTrades,
		LoseTrades:       a.loseTrades,
		TotalRealizedPnL: a.totalPnL,
		DailyTrades:      a.dailyTrades,
		StartBalance:     a.startBalance,
		LastResetDate:    a.lastReset,
	}
}

// rolloverLocked resets the daily counter when the UTC date has advanced past
// the last reset. Caller holds the mutex.
func (a *Aggregator) rolloverLocked() {
	today := dateOf(a.now())
	if today.After(a.lastReset) {
		a.dailyTrades = 0
		a.lastReset = today
	}
}

func dateOf(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
