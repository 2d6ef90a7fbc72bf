package types

import (
	"errors"
	"math"
	"time"
)

// Error taxonomy. Call sites wrap these with fmt.Errorf("%w: ...") and
// transports map them back with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate id")
	ErrConfig      = errors.New("config error")
)

// Source identifies which collector produced an event
type Source string

const (
	SourceBrowser Source = "browser"
	SourceIDE     Source = "ide"
	SourceDesktop Source = "desktop"
	SourceLMS     Source = "lms"
	SourceEngine  Source = "engine" // timeline rows written by the tick loop
)

// Normalized event types. Collectors send raw plugin names which the
// telemetry package maps onto these.
const (
	EventTabSwitch      = "tab_switch"
	EventNavigation     = "navigation"
	EventScroll         = "scroll"
	EventWindowChange   = "window_change"
	EventIdleStart      = "idle_start"
	EventIdleEnd        = "idle_end"
	EventCompileError   = "compile_error"
	EventCompileSuccess = "compile_success"
	EventFileSave       = "file_save"
	EventKeystroke      = "keystroke"
	EventDebugStart     = "debug_start"
	EventDebugStop      = "debug_stop"
	EventTerminalCmd    = "terminal_cmd"
	EventInferenceTick  = "inference_tick"
)

// TelemetryEvent is a single normalized observation. Immutable once ingested.
type TelemetryEvent struct {
	Source    Source         `json:"source"`
	Type      string         `json:"type"`
	RawType   string         `json:"raw_type,omitempty"`
	Timestamp float64        `json:"timestamp"` // unix seconds
	Data      map[string]any `json:"data,omitempty"`
}

// Time returns the event timestamp as a time.Time
func (e TelemetryEvent) Time() time.Time {
	return FromUnix(e.Timestamp)
}

// Unix converts t to fractional unix seconds
func Unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnix converts fractional unix seconds to a time.Time
func FromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Features is the fixed feature vector recomputed every tick
type Features struct {
	TabSwitchRate      float64 `json:"tab_switch_rate"`    // per minute
	CompileErrorRate   float64 `json:"compile_error_rate"` // per minute
	TypingBurstScore   float64 `json:"typing_burst_score"`
	TaskSwitchEntropy  float64 `json:"task_switch_entropy"`
	IdleFraction       float64 `json:"idle_fraction"`
	ScrollVelocityNorm float64 `json:"scroll_velocity_norm"`
	SessionDurationMin float64 `json:"session_duration_min"`
}

// Breakdown splits load into the three cognitive load theory components
type Breakdown struct {
	Intrinsic  float64 `json:"intrinsic"`
	Extraneous float64 `json:"extraneous"`
	Germane    float64 `json:"germane"`
}

// LoadEstimate is produced once per tick
type LoadEstimate struct {
	Score      float64   `json:"score"`
	Breakdown  Breakdown `json:"breakdown"`
	Confidence float64   `json:"confidence"`
}

// Context is the discrete attention state
type Context string

const (
	ContextDeepFocus   Context = "deep_focus"
	ContextShallowWork Context = "shallow_work"
	ContextStuck       Context = "stuck"
	ContextFatigue     Context = "fatigue"
	ContextRecovering  Context = "recovering"
	ContextUnknown     Context = "unknown"
)

// Contexts lists every context in a stable order
var Contexts = []Context{
	ContextDeepFocus, ContextShallowWork, ContextStuck,
	ContextFatigue, ContextRecovering, ContextUnknown,
}

// Valid reports whether c is a known context
func (c Context) Valid() bool {
	for _, k := range Contexts {
		if k == c {
			return true
		}
	}
	return false
}

// Directive is a recommended action. Lower priority is more urgent.
type Directive struct {
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params"`
	Priority   int            `json:"priority"`
	Reason     string         `json:"reason"`
}

// Difficulty of a task
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyReview Difficulty = "review"
)

// Valid reports whether d is a known difficulty
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyReview:
		return true
	}
	return false
}

// Task is an item in the load-aware queue
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Difficulty       Difficulty `json:"difficulty"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	Tags             []string   `json:"tags"`
}

// Snapshot is the per-tick state pushed to subscribers
type Snapshot struct {
	LoadScore  float64   `json:"load_score"`
	Context    Context   `json:"context"`
	Confidence float64   `json:"confidence"`
	Breakdown  Breakdown `json:"breakdown"`
	Features   Features  `json:"features"`
	Timestamp  float64   `json:"timestamp"`
}

// Clamp01 clips v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp clips v to [lo,hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round4 rounds to four decimals for wire output
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
