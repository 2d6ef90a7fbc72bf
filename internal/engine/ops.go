package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/focus"
	"github.com/vthunder/clr/internal/metrics"
	"github.com/vthunder/clr/internal/pomodoro"
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/tasks"
	"github.com/vthunder/clr/internal/telemetry"
	"github.com/vthunder/clr/internal/types"
)

// Ingestion

// Ingest validates one raw event and pushes it into the window
func (e *Engine) Ingest(ctx context.Context, raw telemetry.RawEvent) (types.TelemetryEvent, error) {
	var (
		ev  types.TelemetryEvent
		err error
	)
	if derr := e.do(ctx, func() {
		ev, err = e.aggregator.Ingest(raw)
	}); derr != nil {
		return ev, derr
	}
	if err != nil {
		metrics.EventRejected(telemetry.ParseSource(raw.Source))
	} else {
		metrics.EventAccepted(ev.Source)
	}
	return ev, err
}

// IngestBatch ingests each element independently
func (e *Engine) IngestBatch(ctx context.Context, raws []telemetry.RawEvent) (telemetry.BatchResult, error) {
	var (
		res      telemetry.BatchResult
		accepted []types.TelemetryEvent
	)
	err := e.do(ctx, func() {
		res, accepted = e.aggregator.IngestBatch(raws)
	})
	if err != nil {
		return res, err
	}
	for _, ev := range accepted {
		metrics.EventAccepted(ev.Source)
	}
	for _, ie := range res.Errors {
		metrics.EventRejected(telemetry.ParseSource(raws[ie.Index].Source))
	}
	return res, nil
}

// State

// State returns the snapshot from the most recent tick
func (e *Engine) State(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	err := e.do(ctx, func() { snap = e.snapshot })
	return snap, err
}

// TickNow runs an inference tick immediately and returns its snapshot
func (e *Engine) TickNow(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	err := e.do(ctx, func() { snap = e.tick() })
	return snap, err
}

// Directives is the policy output for the latest tick
type Directives struct {
	Context    types.Context     `json:"context"`
	LoadScore  float64           `json:"load_score"`
	Directives []types.Directive `json:"directives"`
	Rules      []string          `json:"matched_rules"`
}

// Directives returns the latest recommended actions
func (e *Engine) Directives(ctx context.Context) (Directives, error) {
	var out Directives
	err := e.do(ctx, func() {
		out = Directives{
			Context:    e.snapshot.Context,
			LoadScore:  e.snapshot.LoadScore,
			Directives: append([]types.Directive{}, e.directives...),
			Rules:      e.policy.Describe(e.snapshot.Context, e.snapshot.LoadScore, e.settings.Get()),
		}
		if out.Rules == nil {
			out.Rules = []string{}
		}
	})
	return out, err
}

// Status summarizes the engine for health output
type Status struct {
	Estimator    string `json:"estimator"`
	Ticks        int64  `json:"ticks"`
	WindowEvents int    `json:"window_events"`
	Subscribers  int    `json:"subscribers"`
	Tasks        int    `json:"tasks"`
	PolicyRules  int    `json:"policy_rules"`
	PolicyFile   string `json:"policy_file,omitempty"`
}

// Status reports loop counters
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func() {
		st = Status{
			Estimator:    e.classifier.Name(),
			Ticks:        e.ticks,
			WindowEvents: e.window.Len(),
			Subscribers:  e.hub.Count(),
			Tasks:        e.queue.Count(),
			PolicyRules:  len(e.policy.Rules()),
			PolicyFile:   e.policy.Path(),
		}
	})
	return st, err
}

// Focus mode

// Focus returns the focus mode state
func (e *Engine) Focus(ctx context.Context) (focus.State, error) {
	var st focus.State
	err := e.do(ctx, func() { st = e.focus.Status() })
	return st, err
}

// StartFocus activates focus mode, restarting it if already active
func (e *Engine) StartFocus(ctx context.Context, minutes float64, blockTabs bool, reason, setBy string) (focus.State, error) {
	var (
		st  focus.State
		err error
	)
	if derr := e.do(ctx, func() {
		st, err = e.focus.Start(minutes, blockTabs, reason, setBy)
		if err != nil {
			return
		}
		e.journal(activity.TypeFocusStarted, setBy,
			fmt.Sprintf("Focus mode started for %.0f min", minutes),
			map[string]any{"duration_minutes": minutes, "block_tabs": blockTabs, "reason": reason})
	}); derr != nil {
		return st, derr
	}
	return st, err
}

// StopFocus deactivates focus mode
func (e *Engine) StopFocus(ctx context.Context, source string) (focus.State, bool, error) {
	var (
		st  focus.State
		was bool
	)
	err := e.do(ctx, func() {
		st, was = e.focus.Stop()
		if was {
			e.journal(activity.TypeFocusStopped, source, "Focus mode stopped", nil)
		}
	})
	return st, was, err
}

// Pomodoro

// Pomodoro returns the pomodoro state
func (e *Engine) Pomodoro(ctx context.Context) (pomodoro.State, error) {
	var st pomodoro.State
	err := e.do(ctx, func() { st = e.pomodoro.Status() })
	return st, err
}

// StartPomodoro begins a work phase. A zero override uses the duration
// recommended for the current load.
func (e *Engine) StartPomodoro(ctx context.Context, override time.Duration, source string) (pomodoro.State, error) {
	var (
		st  pomodoro.State
		err error
	)
	if derr := e.do(ctx, func() {
		before := e.pomodoro.Status().Phase
		st, err = e.pomodoro.Start(override)
		if err != nil || before != pomodoro.PhaseIdle {
			return
		}
		e.journal(activity.TypePomodoroStarted, source,
			fmt.Sprintf("Pomodoro started (%d min work)", st.DurationSeconds/60),
			map[string]any{"duration_seconds": st.DurationSeconds, "load_score": e.score})
	}); derr != nil {
		return st, derr
	}
	return st, err
}

// StopPomodoro returns the cycle to idle
func (e *Engine) StopPomodoro(ctx context.Context, source string) (pomodoro.State, error) {
	var st pomodoro.State
	err := e.do(ctx, func() {
		before := e.pomodoro.Status().Phase
		st = e.pomodoro.Stop()
		if before != pomodoro.PhaseIdle {
			e.journal(activity.TypePomodoroStopped, source, "Pomodoro stopped during "+string(before),
				map[string]any{"sessions_completed": st.SessionsCompleted})
		}
	})
	return st, err
}

// Tasks

// TaskList is the queue in its current order
type TaskList struct {
	Tasks              []types.Task `json:"tasks"`
	Current            *types.Task  `json:"current"`
	Regime             tasks.Regime `json:"regime"`
	LoadScore          float64      `json:"load_score"`
	RecommendedMinutes int          `json:"recommended_minutes"`
}

// Tasks returns the ordered queue
func (e *Engine) Tasks(ctx context.Context) (TaskList, error) {
	var out TaskList
	err := e.do(ctx, func() {
		score := e.queue.CurrentLoad()
		out = TaskList{
			Tasks:              e.queue.All(),
			Regime:             e.queue.Regime(),
			LoadScore:          score,
			RecommendedMinutes: tasks.RecommendedDuration(score),
		}
		if head, ok := e.queue.Peek(); ok {
			out.Current = &head
		}
	})
	return out, err
}

// AddTask validates and enqueues a task
func (e *Engine) AddTask(ctx context.Context, t types.Task, source string) (types.Task, error) {
	var (
		added types.Task
		err   error
	)
	if derr := e.do(ctx, func() {
		added, err = e.queue.Add(t)
		if err != nil {
			return
		}
		e.saveTasks()
		e.journal(activity.TypeTaskAdded, source, "Task added: "+added.Title,
			map[string]any{"id": added.ID, "difficulty": string(added.Difficulty)})
	}); derr != nil {
		return added, derr
	}
	return added, err
}

// RemoveTask deletes a task by id
func (e *Engine) RemoveTask(ctx context.Context, id, source string) (types.Task, error) {
	var (
		removed types.Task
		err     error
	)
	if derr := e.do(ctx, func() {
		removed, err = e.queue.Remove(id)
		if err != nil {
			return
		}
		e.saveTasks()
		e.journal(activity.TypeTaskRemoved, source, "Task removed: "+removed.Title,
			map[string]any{"id": removed.ID})
	}); derr != nil {
		return removed, derr
	}
	return removed, err
}

// CompleteTask pops the head of the queue
func (e *Engine) CompleteTask(ctx context.Context, source string) (types.Task, error) {
	var (
		done types.Task
		err  error
	)
	if derr := e.do(ctx, func() {
		done, err = e.queue.CompleteCurrent()
		if err != nil {
			return
		}
		e.saveTasks()
		e.journal(activity.TypeTaskCompleted, source, "Task completed: "+done.Title,
			map[string]any{"id": done.ID})
	}); derr != nil {
		return done, derr
	}
	return done, err
}

// Settings

// Settings returns the current settings
func (e *Engine) Settings() settings.Settings {
	return e.settings.Get()
}

// PatchSettings applies a validated patch and propagates the new values
// to the window and the task queue.
func (e *Engine) PatchSettings(ctx context.Context, p settings.Patch, source string) (settings.Settings, error) {
	var (
		cur settings.Settings
		err error
	)
	if derr := e.do(ctx, func() {
		cur, err = e.settings.Apply(p)
		if err != nil {
			return
		}
		e.window.SetSessionGap(cur.SessionGap())
		e.queue.SetThresholds(cur.HighLoadThreshold, e.lowLoad)
		e.journal(activity.TypeSettings, source, "Settings updated", map[string]any{"settings": cur})
	}); derr != nil {
		return cur, derr
	}
	return cur, err
}
