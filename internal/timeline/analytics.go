package timeline

import (
	"context"
	"sort"
	"time"

	"github.com/vthunder/clr/internal/types"
)

// Session is a maximal run of ticks with consecutive gaps below the
// session gap.
type Session struct {
	SessionIndex        int                `json:"session_index"`
	StartTS             float64            `json:"start_ts"`
	EndTS               float64            `json:"end_ts"`
	DurationMinutes     float64            `json:"duration_minutes"`
	TickCount           int                `json:"tick_count"`
	AvgLoadScore        float64            `json:"avg_load_score"`
	PeakLoadScore       float64            `json:"peak_load_score"`
	ContextDistribution map[string]float64 `json:"context_distribution"`
	DominantContext     string             `json:"dominant_context"`
}

// DailyStat rolls ticks and sessions up by UTC calendar day
type DailyStat struct {
	Date                string             `json:"date"` // YYYY-MM-DD
	TickCount           int                `json:"tick_count"`
	SessionCount        int                `json:"session_count"`
	AvgLoadScore        float64            `json:"avg_load_score"`
	PeakLoadScore       float64            `json:"peak_load_score"`
	TotalSessionMinutes float64            `json:"total_session_minutes"`
	FocusMinutes        float64            `json:"focus_minutes"`
	ContextDistribution map[string]float64 `json:"context_distribution"`
}

// ticks loads every inference tick in [since, until] ascending
func (s *Store) ticks(ctx context.Context, since, until float64) ([]Entry, error) {
	return s.query(ctx, Filter{
		Since:     since,
		Until:     until,
		Source:    string(types.SourceEngine),
		EventType: types.EventInferenceTick,
		Limit:     -1,
	})
}

// Sessions splits ticks in [since, until] into sessions, oldest first
func (s *Store) Sessions(ctx context.Context, since, until float64, gap time.Duration) ([]Session, error) {
	entries, err := s.ticks(ctx, since, until)
	if err != nil {
		return nil, err
	}
	return BuildSessions(entries, gap), nil
}

// BuildSessions groups ascending ticks. A gap >= gap starts a new session.
func BuildSessions(entries []Entry, gap time.Duration) []Session {
	out := []Session{}
	if len(entries) == 0 {
		return out
	}
	gapSec := gap.Seconds()

	start := 0
	for i := 1; i <= len(entries); i++ {
		if i < len(entries) && entries[i].Timestamp-entries[i-1].Timestamp < gapSec {
			continue
		}
		out = append(out, summarize(len(out), entries[start:i]))
		start = i
	}
	return out
}

func summarize(index int, run []Entry) Session {
	first, last := run[0], run[len(run)-1]
	var sum, peak float64
	counts := make(map[string]int)
	for _, e := range run {
		sum += e.LoadScore
		if e.LoadScore > peak {
			peak = e.LoadScore
		}
		counts[e.Context]++
	}
	dist := distribution(counts, len(run))
	return Session{
		SessionIndex:        index,
		StartTS:             first.Timestamp,
		EndTS:               last.Timestamp,
		DurationMinutes:     types.Round4((last.Timestamp - first.Timestamp) / 60),
		TickCount:           len(run),
		AvgLoadScore:        types.Round4(sum / float64(len(run))),
		PeakLoadScore:       types.Round4(peak),
		ContextDistribution: dist,
		DominantContext:     dominant(counts),
	}
}

func distribution(counts map[string]int, total int) map[string]float64 {
	dist := make(map[string]float64, len(counts))
	if total == 0 {
		return dist
	}
	for k, c := range counts {
		dist[k] = float64(c) / float64(total)
	}
	return dist
}

// dominant is the mode; ties go to the alphabetically first context
func dominant(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := string(types.ContextUnknown), 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// DailyStats aggregates [since, until] by UTC day, oldest first. A session
// counts toward the day it started on.
func (s *Store) DailyStats(ctx context.Context, since, until float64, gap time.Duration) ([]DailyStat, error) {
	entries, err := s.ticks(ctx, since, until)
	if err != nil {
		return nil, err
	}
	return BuildDailyStats(entries, gap), nil
}

// BuildDailyStats rolls ascending ticks up by UTC calendar day
func BuildDailyStats(entries []Entry, gap time.Duration) []DailyStat {
	type acc struct {
		ticks    int
		sum      float64
		peak     float64
		counts   map[string]int
		sessions int
		minutes  float64
		focus    float64
	}
	days := make(map[string]*acc)
	var order []string
	get := func(ts float64) *acc {
		d := Day(ts)
		a, ok := days[d]
		if !ok {
			a = &acc{counts: make(map[string]int)}
			days[d] = a
			order = append(order, d)
		}
		return a
	}

	for _, e := range entries {
		a := get(e.Timestamp)
		a.ticks++
		a.sum += e.LoadScore
		if e.LoadScore > a.peak {
			a.peak = e.LoadScore
		}
		a.counts[e.Context]++
	}
	for _, sess := range BuildSessions(entries, gap) {
		a := get(sess.StartTS)
		a.sessions++
		a.minutes += sess.DurationMinutes
		a.focus += sess.DurationMinutes * sess.ContextDistribution[string(types.ContextDeepFocus)]
	}

	sort.Strings(order)
	out := make([]DailyStat, 0, len(order))
	for _, d := range order {
		a := days[d]
		st := DailyStat{
			Date:                d,
			TickCount:           a.ticks,
			SessionCount:        a.sessions,
			PeakLoadScore:       types.Round4(a.peak),
			TotalSessionMinutes: types.Round4(a.minutes),
			FocusMinutes:        types.Round4(a.focus),
			ContextDistribution: distribution(a.counts, a.ticks),
		}
		if a.ticks > 0 {
			st.AvgLoadScore = types.Round4(a.sum / float64(a.ticks))
		}
		out = append(out, st)
	}
	return out
}

// Day formats ts as its UTC calendar date
func Day(ts float64) string {
	return types.FromUnix(ts).UTC().Format("2006-01-02")
}
