// Package pomodoro implements the adaptive work/break cycle. Phases are
// derived from wall-clock time on every read, so missed ticks catch up
// without drift.
package pomodoro

import (
	"fmt"
	"sync"
	"time"

	"github.com/vthunder/clr/internal/types"
)

// Phase of the cycle
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseWork       Phase = "work"
	PhaseShortBreak Phase = "short_break"
	PhaseLongBreak  Phase = "long_break"
)

const (
	DefaultWorkSeconds = 1500
	LongBreakEvery     = 4
	maxCatchUp         = 10000
)

// State is the controller snapshot
type State struct {
	Phase             Phase   `json:"phase"`
	PhaseStartTS      float64 `json:"phase_start_ts,omitempty"`
	DurationSeconds   int     `json:"duration_seconds"`
	SessionsCompleted int     `json:"sessions_completed"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	RemainingSeconds  float64 `json:"remaining_seconds"`
}

// Transition records one phase change observed during a tick
type Transition struct {
	From              Phase   `json:"from"`
	To                Phase   `json:"to"`
	At                float64 `json:"at"`
	SessionsCompleted int     `json:"sessions_completed"`
}

// Durations supplies phase lengths. Work is called each time a work phase
// begins so it can follow the current load.
type Durations struct {
	Work  func() time.Duration
	Short func() time.Duration
	Long  func() time.Duration
}

// Controller is the idle/work/short_break/long_break state machine
type Controller struct {
	mu    sync.Mutex
	state State
	dur   Durations
	now   func() time.Time
}

// NewController creates an idle controller. Nil duration funcs fall back
// to 25/5/20 minutes.
func NewController(dur Durations, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	if dur.Work == nil {
		dur.Work = func() time.Duration { return DefaultWorkSeconds * time.Second }
	}
	if dur.Short == nil {
		dur.Short = func() time.Duration { return 5 * time.Minute }
	}
	if dur.Long == nil {
		dur.Long = func() time.Duration { return 20 * time.Minute }
	}
	return &Controller{
		state: State{Phase: PhaseIdle},
		dur:   dur,
		now:   now,
	}
}

// Start begins a work phase. override > 0 replaces the adaptive length.
// Starting while a cycle is running returns the running state unchanged.
func (c *Controller) Start(override time.Duration) (State, error) {
	if override < 0 {
		return c.Status(), fmt.Errorf("%w: work duration must be positive", types.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.catchUp()
	if c.state.Phase != PhaseIdle {
		return c.view(), nil
	}
	d := override
	if d == 0 {
		d = c.dur.Work()
	}
	c.state.Phase = PhaseWork
	c.state.PhaseStartTS = types.Unix(c.now())
	c.state.DurationSeconds = seconds(d)
	return c.view(), nil
}

// Stop returns to idle. sessions_completed is kept.
func (c *Controller) Stop() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.catchUp()
	c.state = State{Phase: PhaseIdle, SessionsCompleted: c.state.SessionsCompleted}
	return c.view()
}

// Status returns the current state after catching up
func (c *Controller) Status() State {
	st, _ := c.Tick()
	return st
}

// Tick advances through every phase boundary that has passed and returns
// the transitions it crossed. Repeated calls within a phase are no-ops.
func (c *Controller) Tick() (State, []Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.catchUp()
	return c.view(), ts
}

// catchUp advances phase_start by whole phase durations. Caller holds mu.
func (c *Controller) catchUp() []Transition {
	if c.state.Phase == PhaseIdle {
		return nil
	}
	now := types.Unix(c.now())
	var out []Transition

	for i := 0; ; i++ {
		end := c.state.PhaseStartTS + float64(c.state.DurationSeconds)
		if now < end {
			break
		}
		if i >= maxCatchUp {
			// catch-up cap reached; resume from now
			c.state.PhaseStartTS = now
			break
		}

		from := c.state.Phase
		switch from {
		case PhaseWork:
			c.state.SessionsCompleted++
			if c.state.SessionsCompleted%LongBreakEvery == 0 {
				c.state.Phase = PhaseLongBreak
				c.state.DurationSeconds = seconds(c.dur.Long())
			} else {
				c.state.Phase = PhaseShortBreak
				c.state.DurationSeconds = seconds(c.dur.Short())
			}
		default:
			c.state.Phase = PhaseWork
			c.state.DurationSeconds = seconds(c.dur.Work())
		}
		c.state.PhaseStartTS = end
		out = append(out, Transition{
			From:              from,
			To:                c.state.Phase,
			At:                end,
			SessionsCompleted: c.state.SessionsCompleted,
		})
	}
	return out
}

// view fills derived fields. Caller holds mu.
func (c *Controller) view() State {
	st := c.state
	if st.Phase == PhaseIdle {
		st.PhaseStartTS = 0
		st.DurationSeconds = 0
		return st
	}
	elapsed := types.Unix(c.now()) - st.PhaseStartTS
	if elapsed < 0 {
		elapsed = 0
	}
	st.ElapsedSeconds = types.Round4(elapsed)
	st.RemainingSeconds = types.Round4(float64(st.DurationSeconds) - elapsed)
	if st.RemainingSeconds < 0 {
		st.RemainingSeconds = 0
	}
	return st
}

// seconds rounds d to whole seconds with a one second floor
func seconds(d time.Duration) int {
	s := int(d.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
