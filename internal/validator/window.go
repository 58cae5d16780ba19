package validator

import "time"

// Window is a daily trading-hours window in whole UTC hours. A window whose
// end hour is not after its start hour wraps past midnight.
type Window struct {
	Enabled   bool
	StartHour int
	EndHour   int
}

// Active reports whether now falls inside the window. A disabled window is
// always active.
func (w Window) Active(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	h := now.UTC().Hour()
	if w.EndHour > w.StartHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// NextOpen returns how long until the window next becomes active. Zero when
// the window is already active.
func (w Window) NextOpen(now time.Time) time.Duration {
	if w.Active(now) {
		return 0
	}
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day(), w.StartHour, 0, 0, 0, time.UTC)
	if !next.After(utc) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(utc)
}
