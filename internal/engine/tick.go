package engine

import (
	"fmt"
	"time"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/classify"
	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/metrics"
	"github.com/vthunder/clr/internal/timeline"
	"github.com/vthunder/clr/internal/types"
)

// tick runs one inference cycle. Loop goroutine only.
func (e *Engine) tick() types.Snapshot {
	started := time.Now()
	now := e.now()
	s := e.settings.Get()

	ex := e.window.Extract(now)

	prev := e.score
	if !e.seeded {
		// first tick starts the EMA at the raw score instead of the prior
		prev = e.estimator.Raw(ex.Features)
		e.seeded = true
	}
	est := e.estimator.Estimate(ex.Features, prev, ex.Coverage)

	ctx := e.classifier.Classify(classify.Input{
		Features:   ex.Features,
		Score:      est.Score,
		Confidence: est.Confidence,
		History:    e.history,
	}, s)

	e.score = est.Score
	e.history = append(e.history, est.Score)
	if len(e.history) > historySize {
		e.history = e.history[len(e.history)-historySize:]
	}

	e.directives = e.policy.Evaluate(ctx, est.Score, s)
	if e.queue.UpdateLoad(est.Score) {
		logging.Debug("engine", "Task order changed (regime=%s)", e.queue.Regime())
	}

	e.guard("focus", e.tickFocus)
	e.guard("pomodoro", e.tickPomodoro)

	snap := types.Snapshot{
		LoadScore:  est.Score,
		Context:    ctx,
		Confidence: est.Confidence,
		Breakdown:  est.Breakdown,
		Features:   ex.Features,
		Timestamp:  types.Unix(now),
	}
	if snap.Context != e.snapshot.Context {
		logging.Info("engine", "Context %s -> %s (load=%.2f)", e.snapshot.Context, snap.Context, snap.LoadScore)
	}
	e.snapshot = snap
	e.ticks++

	if e.recorder != nil && !e.recorder.Add(timeline.TickEntry(snap)) {
		logging.Debug("engine", "Timeline writer full, tick %d not recorded", e.ticks)
	}
	e.hub.Publish(snap)
	metrics.SetSubscribers(e.hub.Count())
	metrics.ObserveTick(time.Since(started), snap, e.window.Len())
	return snap
}

// guard isolates one controller's tick. A panic is logged, counted and
// journaled; the remaining controllers still run.
func (e *Engine) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("engine", "%s controller fault: %v", name, r)
			metrics.ControllerFault(name)
			e.record(activity.FaultEntry(name, r))
		}
	}()
	fn()
}

func (e *Engine) tickFocus() {
	if _, expired := e.focus.Tick(); !expired {
		return
	}
	logging.Info("engine", "Focus mode expired")
	e.journal(activity.TypeFocusExpired, "engine", "Focus mode expired", nil)
}

func (e *Engine) tickPomodoro() {
	_, transitions := e.pomodoro.Tick()
	for _, t := range transitions {
		summary := fmt.Sprintf("Pomodoro %s -> %s", t.From, t.To)
		logging.Info("engine", "%s (sessions=%d)", summary, t.SessionsCompleted)
		e.journal(activity.TypePomodoroPhase, "engine", summary, map[string]any{
			"from":               string(t.From),
			"to":                 string(t.To),
			"at":                 t.At,
			"sessions_completed": t.SessionsCompleted,
		})
	}
}
