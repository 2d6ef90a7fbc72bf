// Package engine owns every piece of mutable router state and drives the
// inference tick. All reads and writes are funneled through a single loop
// goroutine, so nothing here needs a lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/classify"
	"github.com/vthunder/clr/internal/focus"
	"github.com/vthunder/clr/internal/load"
	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/policy"
	"github.com/vthunder/clr/internal/pomodoro"
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/signal"
	"github.com/vthunder/clr/internal/stream"
	"github.com/vthunder/clr/internal/tasks"
	"github.com/vthunder/clr/internal/telemetry"
	"github.com/vthunder/clr/internal/timeline"
	"github.com/vthunder/clr/internal/types"
)

// ErrStopped is returned by calls made after Run has returned
var ErrStopped = errors.New("engine stopped")

const (
	historySize   = 30  // smoothed scores kept for the classifier
	persistBuffer = 256 // queued journal and task writes
)

// Recorder receives one timeline entry per tick. timeline.BatchWriter
// satisfies it.
type Recorder interface {
	Add(e timeline.Entry) bool
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Interval         time.Duration
	WindowSeconds    float64
	MaxWindowEvents  int
	LowLoadThreshold float64
	StatePath        string // tasks.json lives here; empty keeps tasks in memory
	Now              func() time.Time

	Classifier classify.Classifier
	Estimator  *load.Estimator
}

// Deps are the collaborators shared with the transport layer
type Deps struct {
	Settings *settings.Store
	Policy   *policy.Engine
	Hub      *stream.Hub
	Recorder Recorder // optional
	Activity Journal  // optional
}

// Engine is the cognitive load router
type Engine struct {
	interval time.Duration
	lowLoad  float64
	now      func() time.Time
	reqs     chan func()
	stopped  chan struct{}

	window     *signal.Window
	aggregator *telemetry.Aggregator
	estimator  *load.Estimator
	classifier classify.Classifier
	policy     *policy.Engine
	queue      *tasks.Queue
	focus      *focus.Controller
	pomodoro   *pomodoro.Controller

	settings *settings.Store
	hub      *stream.Hub
	recorder Recorder
	persist  *persister

	// owned by the loop
	score      float64
	seeded     bool
	history    []float64
	snapshot   types.Snapshot
	directives []types.Directive
	ticks      int64
}

// New wires an engine. Call Run to start it.
func New(opts Options, deps Deps) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.WindowSeconds <= 0 {
		opts.WindowSeconds = 300
	}
	if opts.LowLoadThreshold <= 0 {
		opts.LowLoadThreshold = 0.35
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewRuleClassifier(nil)
	}
	if opts.Estimator == nil {
		opts.Estimator = load.Default()
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewStore("")
	}
	if deps.Policy == nil {
		deps.Policy = policy.New()
	}
	if deps.Hub == nil {
		deps.Hub = stream.NewHub()
	}

	s := deps.Settings.Get()
	e := &Engine{
		interval:   opts.Interval,
		lowLoad:    opts.LowLoadThreshold,
		now:        opts.Now,
		reqs:       make(chan func()),
		stopped:    make(chan struct{}),
		window:     signal.NewWindow(opts.WindowSeconds, opts.MaxWindowEvents),
		estimator:  opts.Estimator,
		classifier: opts.Classifier,
		policy:     deps.Policy,
		focus:      focus.NewController(opts.Now),
		settings:   deps.Settings,
		hub:        deps.Hub,
		recorder:   deps.Recorder,
		score:      tasks.DefaultLoad,
		snapshot:   types.Snapshot{Context: types.ContextUnknown},
		directives: []types.Directive{},
	}
	e.window.SetSessionGap(s.SessionGap())
	e.aggregator = telemetry.NewAggregator(e.window, opts.Now)

	var tasksPath string
	if opts.StatePath != "" {
		tasksPath = filepath.Join(opts.StatePath, "tasks.json")
	}
	e.queue = tasks.NewQueue(tasksPath, s.HighLoadThreshold, opts.LowLoadThreshold)
	if err := e.queue.Load(); err != nil {
		logging.Warn("engine", "Failed to load tasks: %v", err)
	}
	e.persist = newPersister(deps.Activity, e.queue, persistBuffer)

	e.pomodoro = pomodoro.NewController(pomodoro.Durations{
		Work: func() time.Duration {
			return time.Duration(tasks.RecommendedDuration(e.score)) * time.Minute
		},
		Short: func() time.Duration {
			return time.Duration(e.settings.Get().ShortBreakSeconds) * time.Second
		},
		Long: func() time.Duration {
			return time.Duration(e.settings.Get().LongBreakSeconds) * time.Second
		},
	}, opts.Now)

	e.policy.SetVar("recommended_minutes", func(score float64) any {
		return tasks.RecommendedDuration(score)
	})
	return e
}

// Run drives the tick loop and serves requests until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer close(e.stopped)

	logging.Info("engine", "Started (interval=%v, window=%.0fs, classifier=%s)",
		e.interval, e.window.Seconds(), e.classifier.Name())

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.tick()
		case req := <-e.reqs:
			e.serve(req)
		}
	}
}

func (e *Engine) shutdown() {
	e.persist.close()
	if err := e.queue.Save(); err != nil {
		logging.Warn("engine", "Failed to save tasks: %v", err)
	}
	logging.Info("engine", "Stopped after %d ticks", e.ticks)
}

// serve runs one request on the loop. A panicking request must not take
// the loop down with it.
func (e *Engine) serve(req func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("engine", "Request panicked: %v", r)
		}
	}()
	req()
}

// do runs fn on the loop goroutine and waits for it
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}
	select {
	case e.reqs <- req:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// journal queues an activity entry stamped with the engine clock
func (e *Engine) journal(t activity.Type, source, summary string, data map[string]any) {
	e.record(activity.Entry{Type: t, Source: source, Summary: summary, Data: data})
}

func (e *Engine) record(entry activity.Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	e.persist.submit(persistJob{entry: &entry})
}

func (e *Engine) saveTasks() {
	e.persist.submit(persistJob{saveTasks: true})
}

// Flush waits until every journal entry and task snapshot queued so far
// is on disk
func (e *Engine) Flush(ctx context.Context) error {
	return e.persist.sync(ctx)
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine(ticks=%d, score=%.3f)", e.ticks, e.score)
}
