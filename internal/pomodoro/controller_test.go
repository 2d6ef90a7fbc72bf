package pomodoro

import (
	"testing"
	"time"

	"github.com/vthunder/clr/internal/types"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var epoch = time.Unix(1705276800, 0)

func newTestController(work *time.Duration) (*Controller, *fakeClock) {
	clock := &fakeClock{t: epoch}
	c := NewController(Durations{
		Work:  func() time.Duration { return *work },
		Short: func() time.Duration { return 5 * time.Minute },
		Long:  func() time.Duration { return 20 * time.Minute },
	}, clock.Now)
	return c, clock
}

// TestFourthBreakIsLong tests the long break cadence and session counting
func TestFourthBreakIsLong(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	if st, _ := c.Start(0); st.Phase != PhaseWork || st.DurationSeconds != 1500 {
		t.Fatalf("start: got %+v", st)
	}

	for i := 1; i <= 4; i++ {
		clock.Advance(25 * time.Minute)
		st := c.Status()
		if st.SessionsCompleted != i {
			t.Fatalf("after work %d: sessions %d", i, st.SessionsCompleted)
		}
		want := PhaseShortBreak
		if i == 4 {
			want = PhaseLongBreak
		}
		if st.Phase != want {
			t.Fatalf("after work %d: phase %s, want %s", i, st.Phase, want)
		}

		if i < 4 {
			clock.Advance(5 * time.Minute)
			st = c.Status()
			if st.Phase != PhaseWork {
				t.Fatalf("after break %d: phase %s", i, st.Phase)
			}
			if st.SessionsCompleted != i {
				t.Fatalf("break %d changed sessions to %d", i, st.SessionsCompleted)
			}
		}
	}

	clock.Advance(20 * time.Minute)
	st := c.Status()
	if st.Phase != PhaseWork || st.SessionsCompleted != 4 {
		t.Errorf("after long break: %+v", st)
	}
}

// TestRepeatedReadsAreNoOps tests that call frequency doesn't drive phases
func TestRepeatedReadsAreNoOps(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	c.Start(0)
	for i := 0; i < 100; i++ {
		clock.Advance(time.Second)
		if _, ts := c.Tick(); len(ts) != 0 {
			t.Fatalf("unexpected transition at %ds", i+1)
		}
	}
	st := c.Status()
	if st.Phase != PhaseWork || st.ElapsedSeconds != 100 || st.RemainingSeconds != 1400 {
		t.Errorf("got %+v", st)
	}
}

// TestCatchUpAfterSleep tests that one read crosses every missed boundary
func TestCatchUpAfterSleep(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	c.Start(0)

	// three full work+short cycles, the fourth work phase, plus 2 minutes
	clock.Advance(3*30*time.Minute + 25*time.Minute + 2*time.Minute)
	st, ts := c.Tick()
	if len(ts) != 7 {
		t.Fatalf("transitions: got %d, want 7", len(ts))
	}
	if st.Phase != PhaseLongBreak || st.SessionsCompleted != 4 {
		t.Errorf("got %+v", st)
	}
	if st.ElapsedSeconds != 120 {
		t.Errorf("drift: elapsed %v, want 120", st.ElapsedSeconds)
	}
	wantStart := types.Unix(epoch) + float64(3*30*60+25*60)
	if st.PhaseStartTS != wantStart {
		t.Errorf("phase start: got %v, want %v", st.PhaseStartTS, wantStart)
	}
}

// TestLateTickDoesNotDrift tests that phase boundaries stay on schedule
func TestLateTickDoesNotDrift(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	c.Start(0)
	clock.Advance(25*time.Minute + 90*time.Second)
	st := c.Status()
	if st.Phase != PhaseShortBreak {
		t.Fatalf("phase: %s", st.Phase)
	}
	if st.PhaseStartTS != types.Unix(epoch)+1500 {
		t.Errorf("break start drifted to %v", st.PhaseStartTS-types.Unix(epoch))
	}
	if st.RemainingSeconds != 210 {
		t.Errorf("remaining: got %v, want 210", st.RemainingSeconds)
	}
}

// TestWorkLengthFollowsLoad tests that each work phase reads a fresh duration
func TestWorkLengthFollowsLoad(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	c.Start(0)

	work = 10 * time.Minute
	clock.Advance(25*time.Minute + 5*time.Minute)
	st := c.Status()
	if st.Phase != PhaseWork || st.DurationSeconds != 600 {
		t.Errorf("second work phase: got %+v", st)
	}
}

// TestStopKeepsSessions tests that idle is only entered explicitly
func TestStopKeepsSessions(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	c.Start(0)
	clock.Advance(26 * time.Minute)

	st := c.Stop()
	if st.Phase != PhaseIdle || st.SessionsCompleted != 1 {
		t.Fatalf("stop: got %+v", st)
	}
	clock.Advance(time.Hour)
	if st := c.Status(); st.Phase != PhaseIdle || st.SessionsCompleted != 1 {
		t.Errorf("idle drifted: %+v", st)
	}

	st, _ = c.Start(0)
	if st.Phase != PhaseWork || st.SessionsCompleted != 1 {
		t.Errorf("restart: got %+v", st)
	}
}

// TestStartWhileRunning tests that a second start leaves the cycle alone
func TestStartWhileRunning(t *testing.T) {
	work := 25 * time.Minute
	c, clock := newTestController(&work)
	first, _ := c.Start(0)
	clock.Advance(time.Minute)
	second, _ := c.Start(10 * time.Minute)
	if second.PhaseStartTS != first.PhaseStartTS || second.DurationSeconds != 1500 {
		t.Errorf("running cycle changed: %+v", second)
	}
}

// TestStartOverride tests an explicit work length
func TestStartOverride(t *testing.T) {
	work := 25 * time.Minute
	c, _ := newTestController(&work)
	st, err := c.Start(15 * time.Minute)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.DurationSeconds != 900 {
		t.Errorf("duration: got %d", st.DurationSeconds)
	}
	if _, err := c.Start(-time.Minute); err == nil {
		t.Error("negative override accepted")
	}
}
