package signal

import (
	"math"
	"testing"
	"time"

	"github.com/vthunder/clr/internal/types"
)

const t0 = 1_700_000_000.0

func at(sec float64) time.Time {
	return types.FromUnix(t0 + sec)
}

func event(typ string, sec float64, data map[string]any) types.TelemetryEvent {
	return types.TelemetryEvent{Source: types.SourceIDE, Type: typ, Timestamp: t0 + sec, Data: data}
}

func TestWindowBoundary(t *testing.T) {
	w := NewWindow(300, 0)
	w.Push(event(types.EventFileSave, 0, nil), at(0))

	if got := w.Extract(at(299)).EventCount; got != 1 {
		t.Errorf("at t=299: got %d events, want 1", got)
	}
	if got := w.Extract(at(301)).EventCount; got != 0 {
		t.Errorf("at t=301: got %d events, want 0", got)
	}
}

func TestPushDropsEventsBelowWindow(t *testing.T) {
	w := NewWindow(300, 0)
	if w.Push(event(types.EventFileSave, 0, nil), at(400)) {
		t.Error("stale event accepted")
	}
	if w.Len() != 0 {
		t.Errorf("len: got %d", w.Len())
	}
}

func TestPushKeepsLateEventsOrdered(t *testing.T) {
	w := NewWindow(300, 0)
	w.Push(event(types.EventFileSave, 10, nil), at(10))
	w.Push(event(types.EventFileSave, 30, nil), at(30))
	if !w.Push(event(types.EventKeystroke, 20, nil), at(31)) {
		t.Fatal("late in-window event dropped")
	}
	evs := w.Events()
	for i := 1; i < len(evs); i++ {
		if evs[i].Timestamp < evs[i-1].Timestamp {
			t.Fatalf("events out of order at %d", i)
		}
	}
	if evs[1].Type != types.EventKeystroke {
		t.Errorf("late event not inserted in place: %+v", evs)
	}
}

func TestMaxEventsBound(t *testing.T) {
	w := NewWindow(300, 3)
	for i := 0; i < 5; i++ {
		w.Push(event(types.EventFileSave, float64(i), nil), at(float64(i)))
	}
	evs := w.Events()
	if len(evs) != 3 || evs[0].Timestamp != t0+2 {
		t.Errorf("expected oldest dropped, got %d events starting %v", len(evs), evs[0].Timestamp-t0)
	}
}

func TestRatesUseCoveredDuration(t *testing.T) {
	w := NewWindow(300, 0)
	// 8 compile errors and 4 tab switches spread over two minutes
	for i := 0; i < 8; i++ {
		w.Push(event(types.EventCompileError, float64(i*15), nil), at(float64(i*15)))
	}
	for i := 0; i < 4; i++ {
		w.Push(types.TelemetryEvent{Source: types.SourceBrowser, Type: types.EventTabSwitch,
			Timestamp: t0 + float64(i*30), Data: map[string]any{"domain": "a.com"}}, at(float64(i*30)))
	}

	snap := w.Extract(at(120))
	if math.Abs(snap.Features.CompileErrorRate-4) > 1e-9 {
		t.Errorf("compile rate: got %v, want 4/min", snap.Features.CompileErrorRate)
	}
	if math.Abs(snap.Features.TabSwitchRate-2) > 1e-9 {
		t.Errorf("tab rate: got %v, want 2/min", snap.Features.TabSwitchRate)
	}
	if math.Abs(snap.Coverage-0.4) > 1e-9 {
		t.Errorf("coverage: got %v, want 0.4", snap.Coverage)
	}
}

func TestCoveredDurationFloor(t *testing.T) {
	w := NewWindow(300, 0)
	w.Push(event(types.EventCompileError, 0, nil), at(0))
	snap := w.Extract(at(5))
	if snap.Covered != 60 {
		t.Errorf("covered: got %v, want 60 floor", snap.Covered)
	}
	if snap.Features.CompileErrorRate != 1 {
		t.Errorf("rate: got %v, want 1/min", snap.Features.CompileErrorRate)
	}
}

func TestEntropy(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]int
		want   float64
	}{
		{"empty", map[string]int{}, 0},
		{"single target", map[string]int{"vscode": 9}, 0},
		{"uniform pair", map[string]int{"vscode": 3, "chrome": 3}, 1},
		{"uniform four", map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, 1},
	}
	for _, tt := range tests {
		if got := NormalizedEntropy(tt.counts); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}

	skewed := NormalizedEntropy(map[string]int{"a": 9, "b": 1})
	if skewed <= 0 || skewed >= 1 {
		t.Errorf("skewed: got %v, want in (0,1)", skewed)
	}
}

func TestIdleFraction(t *testing.T) {
	w := NewWindow(300, 0)
	w.Push(event(types.EventFileSave, 0, nil), at(0))
	w.Push(event(types.EventIdleStart, 60, nil), at(60))
	w.Push(event(types.EventIdleEnd, 120, nil), at(120))
	w.Push(event(types.EventIdleStart, 150, nil), at(150))

	// covered = 180s, idle = 60 + 30
	snap := w.Extract(at(180))
	if math.Abs(snap.Features.IdleFraction-0.5) > 1e-9 {
		t.Errorf("idle fraction: got %v, want 0.5", snap.Features.IdleFraction)
	}
}

func TestTypingBurst(t *testing.T) {
	steady := NewWindow(300, 0)
	bursty := NewWindow(300, 0)
	for i, iv := range []float64{100, 100, 100, 100} {
		steady.Push(event(types.EventKeystroke, float64(i), map[string]any{"interval_ms": iv}), at(float64(i)))
	}
	for i, iv := range []float64{50, 900, 40, 1200} {
		bursty.Push(event(types.EventKeystroke, float64(i), map[string]any{"interval_ms": iv}), at(float64(i)))
	}
	s := steady.Extract(at(10)).Features.TypingBurstScore
	b := bursty.Extract(at(10)).Features.TypingBurstScore
	if s != 0 {
		t.Errorf("steady typing: got %v, want 0", s)
	}
	if b <= 0.5 || b > 1 {
		t.Errorf("bursty typing: got %v", b)
	}
}

func TestScrollNormalizedAgainstRollingMax(t *testing.T) {
	w := NewWindow(300, 0)
	w.Push(event(types.EventScroll, 0, map[string]any{"delta_y": -250.0}), at(0))
	snap := w.Extract(at(1))
	if math.Abs(snap.Features.ScrollVelocityNorm-0.5) > 1e-9 {
		t.Errorf("scroll norm: got %v, want 0.5 against the 500px floor", snap.Features.ScrollVelocityNorm)
	}

	w.Push(event(types.EventScroll, 2, map[string]any{"delta_y": 2000.0}), at(2))
	snap = w.Extract(at(3))
	if snap.Features.ScrollVelocityNorm > 1 || snap.Features.ScrollVelocityNorm <= 0 {
		t.Errorf("scroll norm out of range: %v", snap.Features.ScrollVelocityNorm)
	}
}

func TestSessionDuration(t *testing.T) {
	w := NewWindow(300, 0)
	w.SetSessionGap(10 * time.Minute)
	for i := 0; i <= 10; i++ {
		w.Push(event(types.EventFileSave, float64(i*60), nil), at(float64(i*60)))
	}
	snap := w.Extract(at(600))
	if math.Abs(snap.Features.SessionDurationMin-10) > 1e-9 {
		t.Errorf("session: got %v min, want 10", snap.Features.SessionDurationMin)
	}

	// A gap longer than the session gap starts a new session.
	w.Push(event(types.EventFileSave, 600+11*60, nil), at(600+11*60))
	snap = w.Extract(at(600 + 12*60))
	if math.Abs(snap.Features.SessionDurationMin-1) > 1e-9 {
		t.Errorf("new session: got %v min, want 1", snap.Features.SessionDurationMin)
	}

	// No activity for the whole gap ends the session.
	snap = w.Extract(at(600 + 11*60 + 10*60))
	if snap.Features.SessionDurationMin != 0 {
		t.Errorf("expired session: got %v, want 0", snap.Features.SessionDurationMin)
	}
}

func TestEmptyWindowHasNoCoverage(t *testing.T) {
	w := NewWindow(300, 0)
	if snap := w.Extract(at(0)); snap.Coverage != 0 {
		t.Errorf("fresh window: coverage %v, want 0", snap.Coverage)
	}

	for i := 0; i < 10; i++ {
		w.Push(types.TelemetryEvent{Source: types.SourceBrowser, Type: types.EventTabSwitch,
			Timestamp: t0 + float64(i*30), Data: map[string]any{"domain": "a.com"}}, at(float64(i*30)))
	}
	if snap := w.Extract(at(280)); snap.Coverage < 0.9 {
		t.Fatalf("active window: coverage %v", snap.Coverage)
	}

	// everything evicted long after the session went stale
	snap := w.Extract(at(1470))
	if snap.EventCount != 0 {
		t.Fatalf("events: got %d, want 0", snap.EventCount)
	}
	if snap.Coverage != 0 {
		t.Errorf("stale window: coverage %v, want 0", snap.Coverage)
	}
	if snap.Features.SessionDurationMin != 0 {
		t.Errorf("stale window: session %v min, want 0", snap.Features.SessionDurationMin)
	}
}

func TestLiveSessionExtendsCoverage(t *testing.T) {
	w := NewWindow(300, 0)
	w.SetSessionGap(10 * time.Minute)
	for i := 0; i <= 9; i++ {
		w.Push(event(types.EventFileSave, float64(i*60), nil), at(float64(i*60)))
	}
	// oldest retained event is at 300 but the session began at 0
	snap := w.Extract(at(560))
	if math.Abs(snap.Coverage-1) > 1e-6 {
		t.Errorf("coverage: got %v, want 1", snap.Coverage)
	}
}
