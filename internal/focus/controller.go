// Package focus implements the timed focus mode. Expiry is detected on
// read from wall-clock time; there is no background timer.
package focus

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vthunder/clr/internal/types"
)

// Controller is the Inactive/Active state machine
type Controller struct {
	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewController creates an inactive controller
func NewController(now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{now: now}
}

// Start activates focus mode. Starting while active restarts the timer
// with the new parameters.
func (c *Controller) Start(durationMinutes float64, blockTabs bool, reason, setBy string) (State, error) {
	if durationMinutes <= 0 || math.IsNaN(durationMinutes) || durationMinutes > MaxDurationMinutes {
		return c.Status(), fmt.Errorf("%w: duration_minutes must be in (0, %d], got %v",
			types.ErrValidation, MaxDurationMinutes, durationMinutes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = State{
		Active:          true,
		StartTS:         types.Unix(c.now()),
		DurationMinutes: durationMinutes,
		BlockTabs:       blockTabs,
		Reason:          reason,
		SetBy:           setBy,
	}
	return c.view(), nil
}

// Stop deactivates focus mode from any state and reports whether a
// session was running.
func (c *Controller) Stop() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	wasActive := c.state.Active
	c.state = State{}
	return c.state, wasActive
}

// Status returns the current state, transitioning to inactive if the
// session has run its course.
func (c *Controller) Status() State {
	st, _ := c.Tick()
	return st
}

// Tick is Status plus whether this call observed the expiry
func (c *Controller) Tick() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := c.expireLocked()
	return c.view(), expired
}

// expireLocked deactivates an elapsed session. Caller holds mu.
func (c *Controller) expireLocked() bool {
	if c.state.IsExpired(c.now()) {
		c.state = State{}
		return true
	}
	return false
}

// view fills derived fields. Caller holds mu.
func (c *Controller) view() State {
	st := c.state
	if !st.Active {
		return State{}
	}
	elapsed := (types.Unix(c.now()) - st.StartTS) / 60
	if elapsed < 0 {
		elapsed = 0
	}
	st.ElapsedMinutes = types.Round4(elapsed)
	st.RemainingMinutes = types.Round4(math.Max(0, st.DurationMinutes-elapsed))
	return st
}
