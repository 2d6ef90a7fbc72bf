// Package signal keeps the sliding event window and derives the feature
// vector from it.
package signal

import (
	"sort"
	"time"

	"github.com/vthunder/clr/internal/types"
)

const (
	defaultSessionGap = 10 * time.Minute
	minScrollMax      = 500.0 // px; floor for the rolling scroll maximum
	scrollMaxDecay    = 0.99  // per extraction
)

// Window retains recent events ordered by timestamp. Eviction is lazy and
// happens on Evict/Extract. Not safe for concurrent use.
type Window struct {
	seconds   float64
	maxEvents int
	gap       float64 // seconds

	events []types.TelemetryEvent

	sessionStart float64
	lastEvent    float64
	scrollMax    float64
}

// NewWindow creates a window spanning seconds. maxEvents <= 0 disables
// the count bound.
func NewWindow(seconds float64, maxEvents int) *Window {
	return &Window{
		seconds:   seconds,
		maxEvents: maxEvents,
		gap:       defaultSessionGap.Seconds(),
		scrollMax: minScrollMax,
	}
}

// Seconds is the nominal window span
func (w *Window) Seconds() float64 {
	return w.seconds
}

// SetSessionGap sets the inactivity gap that ends a session
func (w *Window) SetSessionGap(d time.Duration) {
	if d > 0 {
		w.gap = d.Seconds()
	}
}

// Push adds an event. Events older than now-window are dropped and Push
// returns false. Late events inside the window are inserted in order.
func (w *Window) Push(ev types.TelemetryEvent, now time.Time) bool {
	lower := types.Unix(now) - w.seconds
	if ev.Timestamp < lower {
		return false
	}

	i := sort.Search(len(w.events), func(i int) bool {
		return w.events[i].Timestamp > ev.Timestamp
	})
	w.events = append(w.events, types.TelemetryEvent{})
	copy(w.events[i+1:], w.events[i:])
	w.events[i] = ev

	if w.maxEvents > 0 && len(w.events) > w.maxEvents {
		drop := len(w.events) - w.maxEvents
		w.events = append(w.events[:0], w.events[drop:]...)
	}

	w.trackSession(ev.Timestamp)
	return true
}

func (w *Window) trackSession(ts float64) {
	switch {
	case w.lastEvent == 0:
		w.sessionStart = ts
		w.lastEvent = ts
	case ts >= w.lastEvent:
		if ts-w.lastEvent >= w.gap {
			w.sessionStart = ts
		}
		w.lastEvent = ts
	case ts < w.sessionStart && w.sessionStart-ts < w.gap:
		// late arrival that extends the current session backwards
		w.sessionStart = ts
	}
}

// Evict drops events older than now-window and returns how many went
func (w *Window) Evict(now time.Time) int {
	lower := types.Unix(now) - w.seconds
	i := sort.Search(len(w.events), func(i int) bool {
		return w.events[i].Timestamp >= lower
	})
	if i == 0 {
		return 0
	}
	w.events = append(w.events[:0], w.events[i:]...)
	return i
}

// Len is the number of retained events (without evicting)
func (w *Window) Len() int {
	return len(w.events)
}

// Events returns a copy of the retained events in timestamp order
func (w *Window) Events() []types.TelemetryEvent {
	out := make([]types.TelemetryEvent, len(w.events))
	copy(out, w.events)
	return out
}
