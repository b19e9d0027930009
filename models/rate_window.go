package models

import "time"

// RateWindow is the fixed-window counter kept for one rate-limit key.
type RateWindow struct {
	Key        string
	Count      int
	ResetAt    time.Time
	Violations int
}

// Expired reports whether the window has closed at now.
func (w *RateWindow) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}
