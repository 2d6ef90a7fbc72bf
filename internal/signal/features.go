package signal

import (
	"math"
	"time"

	"github.com/vthunder/clr/internal/types"
)

const (
	minCovered = 60.0 // seconds; floor so a fresh window doesn't spike rates
	maxBurst   = 1.0
)

// Snapshot is the result of one extraction
type Snapshot struct {
	Features   types.Features
	Coverage   float64 // fraction of the window spanned by retained events; 0 when empty
	EventCount int
	Covered    float64 // seconds used as the rate denominator
}

// Extract evicts stale events then derives the feature vector at now
func (w *Window) Extract(now time.Time) Snapshot {
	w.Evict(now)
	nowTS := types.Unix(now)
	windowStart := nowTS - w.seconds

	var snap Snapshot
	snap.EventCount = len(w.events)

	// Coverage only counts time backed by events still in the window. A
	// live session may extend it back to the session start; a stale one
	// may not.
	start := nowTS
	if len(w.events) > 0 {
		start = w.events[0].Timestamp
		if w.sessionLive(nowTS) && w.sessionStart < start {
			start = w.sessionStart
		}
	}
	if start < windowStart {
		start = windowStart
	}
	observed := nowTS - start
	if len(w.events) > 0 {
		snap.Coverage = types.Clamp01(observed / w.seconds)
	}
	covered := types.Clamp(observed, minCovered, w.seconds)
	snap.Covered = covered

	minutes := covered / 60
	var tabs, compiles int
	var intervals, scrolls []float64
	targets := map[string]int{}

	for _, ev := range w.events {
		switch ev.Type {
		case types.EventTabSwitch:
			tabs++
			if t := switchTarget(ev); t != "" {
				targets[t]++
			}
		case types.EventWindowChange:
			if t := switchTarget(ev); t != "" {
				targets[t]++
			}
		case types.EventCompileError:
			compiles++
		case types.EventKeystroke:
			if v := number(ev.Data["interval_ms"]); v > 0 {
				intervals = append(intervals, v)
			}
		case types.EventScroll:
			scrolls = append(scrolls, math.Abs(number(ev.Data["delta_y"])))
		}
	}

	f := &snap.Features
	f.TabSwitchRate = float64(tabs) / minutes
	f.CompileErrorRate = float64(compiles) / minutes
	f.TypingBurstScore = burstiness(intervals)
	f.TaskSwitchEntropy = NormalizedEntropy(targets)
	f.IdleFraction = types.Clamp01(w.idleSeconds(nowTS, start) / covered)
	f.ScrollVelocityNorm = w.scrollNorm(scrolls)
	f.SessionDurationMin = w.sessionMinutes(nowTS)
	return snap
}

// switchTarget is the app or domain an attention switch lands on
func switchTarget(ev types.TelemetryEvent) string {
	for _, k := range []string{"app", "domain", "to_url", "title", "file"} {
		if s, ok := ev.Data[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// burstiness is the coefficient of variation of keystroke intervals
func burstiness(intervals []float64) float64 {
	if len(intervals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 0
	}
	var ss float64
	for _, v := range intervals {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(intervals)))
	return math.Min(std/mean, maxBurst)
}

// NormalizedEntropy is Shannon entropy of counts divided by log2 of the
// number of distinct keys. Zero for zero or one key.
func NormalizedEntropy(counts map[string]int) float64 {
	if len(counts) <= 1 {
		return 0
	}
	var total float64
	for _, c := range counts {
		total += float64(c)
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return types.Clamp01(h / math.Log2(float64(len(counts))))
}

// idleSeconds sums idle intervals clipped to [from, now]. An idle_end whose
// start was evicted counts from the clip start; an open idle_start counts
// until now.
func (w *Window) idleSeconds(now, from float64) float64 {
	var total float64
	idle := false
	var since float64
	seenAny := false

	for _, ev := range w.events {
		switch ev.Type {
		case types.EventIdleStart:
			if !idle {
				idle = true
				since = math.Max(ev.Timestamp, from)
			}
			seenAny = true
		case types.EventIdleEnd:
			if idle {
				total += math.Max(0, ev.Timestamp-since)
				idle = false
			} else if !seenAny {
				total += math.Max(0, ev.Timestamp-from)
			}
			seenAny = true
		}
	}
	if idle {
		total += math.Max(0, now-since)
	}
	return total
}

// scrollNorm is mean scroll magnitude over the rolling maximum
func (w *Window) scrollNorm(mags []float64) float64 {
	w.scrollMax = math.Max(minScrollMax, w.scrollMax*scrollMaxDecay)
	if len(mags) == 0 {
		return 0
	}
	var sum float64
	for _, m := range mags {
		sum += m
		if m > w.scrollMax {
			w.scrollMax = m
		}
	}
	return types.Clamp01(sum / float64(len(mags)) / w.scrollMax)
}

// sessionMinutes is minutes since the current session began, or zero when
// the last event is older than the session gap.
func (w *Window) sessionMinutes(now float64) float64 {
	if !w.sessionLive(now) {
		return 0
	}
	return math.Max(0, now-w.sessionStart) / 60
}

// sessionLive reports whether the last event is within the session gap
func (w *Window) sessionLive(now float64) bool {
	return w.lastEvent > 0 && now-w.lastEvent < w.gap
}
