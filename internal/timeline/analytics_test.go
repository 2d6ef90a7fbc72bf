package timeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/vthunder/clr/internal/types"
)

const gap = 10 * time.Minute

func TestSessionsEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Sessions(context.Background(), 0, 0, gap)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d sessions", len(got))
	}
}

func TestSingleTickSession(t *testing.T) {
	s := newTestStore(t)
	tick(t, s, base, 0.5, types.ContextDeepFocus)
	got, _ := s.Sessions(context.Background(), 0, 0, gap)
	if len(got) != 1 || got[0].TickCount != 1 || got[0].StartTS != got[0].EndTS {
		t.Errorf("got %+v", got)
	}
}

func TestGapSplitsSessions(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		tick(t, s, base+float64(i*2), 0.5, types.ContextDeepFocus)
	}
	second := base + 10 + 15*60
	for i := 0; i < 5; i++ {
		tick(t, s, second+float64(i*2), 0.5, types.ContextDeepFocus)
	}

	got, err := s.Sessions(context.Background(), 0, 0, gap)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(got) != 2 || got[0].TickCount != 5 || got[1].TickCount != 5 {
		t.Fatalf("got %+v", got)
	}
	if got[0].StartTS >= got[1].StartTS || got[1].SessionIndex != 1 {
		t.Errorf("not oldest first: %+v", got)
	}
}

func TestSessionDurationAndLoad(t *testing.T) {
	s := newTestStore(t)
	scores := []float64{0.2, 0.4, 0.6, 0.8, 1.0}
	for i, sc := range scores {
		tick(t, s, base+float64(i*60), sc, types.ContextDeepFocus)
	}
	got, _ := s.Sessions(context.Background(), 0, 0, gap)
	if len(got) != 1 {
		t.Fatalf("got %d sessions", len(got))
	}
	sess := got[0]
	if math.Abs(sess.DurationMinutes-4) > 1e-9 {
		t.Errorf("duration: got %v, want 4", sess.DurationMinutes)
	}
	if math.Abs(sess.AvgLoadScore-0.6) > 1e-9 || sess.PeakLoadScore != 1 {
		t.Errorf("avg/peak: got %v/%v", sess.AvgLoadScore, sess.PeakLoadScore)
	}
}

func TestSessionContexts(t *testing.T) {
	s := newTestStore(t)
	ctxs := []types.Context{types.ContextDeepFocus, types.ContextDeepFocus, types.ContextStuck,
		types.ContextShallowWork, types.ContextDeepFocus}
	for i, c := range ctxs {
		tick(t, s, base+float64(i*2), 0.5, c)
	}
	sess, _ := s.Sessions(context.Background(), 0, 0, gap)
	if sess[0].DominantContext != "deep_focus" {
		t.Errorf("dominant: got %q", sess[0].DominantContext)
	}
	var total float64
	for _, v := range sess[0].ContextDistribution {
		total += v
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("distribution sums to %v", total)
	}
}

func TestSessionsIgnoreNonEngineRows(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		tick(t, s, base+float64(i*2), 0.5, types.ContextDeepFocus)
	}
	s.Append(context.Background(), Entry{Timestamp: base + 10, Source: "browser", EventType: "tab_switch"})
	got, _ := s.Sessions(context.Background(), 0, 0, gap)
	if len(got) != 1 || got[0].TickCount != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestSessionsSinceUntil(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 4; i++ {
		tick(t, s, base+float64(i*2), 0.5, types.ContextDeepFocus)
		tick(t, s, base+20*60+float64(i*2), 0.5, types.ContextDeepFocus)
	}
	got, _ := s.Sessions(context.Background(), base+15*60, 0, gap)
	if len(got) != 1 || got[0].StartTS < base+15*60 {
		t.Errorf("got %+v", got)
	}
}

func TestDailyStatsOneDay(t *testing.T) {
	s := newTestStore(t)
	day := 1_705_276_800.0 // 2024-01-15 UTC
	for i := 0; i < 10; i++ {
		tick(t, s, day+float64(i*2), 0.4, types.ContextDeepFocus)
	}
	got, err := s.DailyStats(context.Background(), day-1, day+3600, gap)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d days", len(got))
	}
	d := got[0]
	if d.Date != "2024-01-15" || d.TickCount != 10 || d.SessionCount != 1 {
		t.Errorf("got %+v", d)
	}
	if math.Abs(d.AvgLoadScore-0.4) > 1e-9 || d.PeakLoadScore != 0.4 {
		t.Errorf("avg/peak: %v/%v", d.AvgLoadScore, d.PeakLoadScore)
	}
}

func TestDailyStatsMultipleDays(t *testing.T) {
	s := newTestStore(t)
	day1 := 1_705_276_800.0
	day2 := day1 + 86_400
	for i := 0; i < 5; i++ {
		tick(t, s, day1+float64(i*2), 0.5, types.ContextDeepFocus)
	}
	for i := 0; i < 7; i++ {
		tick(t, s, day2+float64(i*2), 0.5, types.ContextStuck)
	}
	got, _ := s.DailyStats(context.Background(), day1-1, day2+3600, gap)
	if len(got) != 2 || got[0].TickCount != 5 || got[1].TickCount != 7 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Date != "2024-01-15" || got[1].Date != "2024-01-16" {
		t.Errorf("dates: %s %s", got[0].Date, got[1].Date)
	}
	if got[1].ContextDistribution["stuck"] != 1 {
		t.Errorf("distribution: %v", got[1].ContextDistribution)
	}
}

func TestDailyFocusMinutesWithinSessionMinutes(t *testing.T) {
	s := newTestStore(t)
	day := 1_705_276_800.0
	for i := 0; i < 6; i++ {
		c := types.ContextDeepFocus
		if i >= 3 {
			c = types.ContextStuck
		}
		tick(t, s, day+float64(i*60), 0.5, c)
	}
	got, _ := s.DailyStats(context.Background(), day-1, day+400, gap)
	if len(got) != 1 {
		t.Fatalf("got %d days", len(got))
	}
	d := got[0]
	if d.FocusMinutes > d.TotalSessionMinutes {
		t.Errorf("focus %v exceeds session %v", d.FocusMinutes, d.TotalSessionMinutes)
	}
	if math.Abs(d.TotalSessionMinutes-5) > 1e-9 || math.Abs(d.FocusMinutes-2.5) > 1e-9 {
		t.Errorf("minutes: total %v focus %v", d.TotalSessionMinutes, d.FocusMinutes)
	}
}
