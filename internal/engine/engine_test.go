package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/stream"
	"github.com/vthunder/clr/internal/tasks"
	"github.com/vthunder/clr/internal/telemetry"
	"github.com/vthunder/clr/internal/timeline"
	"github.com/vthunder/clr/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []timeline.Entry
}

func (r *memRecorder) Add(e timeline.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

type harness struct {
	dir      string
	engine   *Engine
	clock    *fakeClock
	journal  *activity.Log
	recorder *memRecorder
	hub      *stream.Hub
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:      dir,
		clock:    &fakeClock{t: time.Unix(1705276800, 0)},
		journal:  activity.New(dir),
		recorder: &memRecorder{},
		hub:      stream.NewHub(),
		done:     make(chan struct{}),
	}
	h.engine = New(Options{
		Interval:  time.Hour, // ticks are driven with TickNow
		StatePath: dir,
		Now:       h.clock.Now,
	}, Deps{
		Settings: settings.NewStore(""),
		Hub:      h.hub,
		Recorder: h.recorder,
		Activity: h.journal,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.engine.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

// entries flushes pending writes and reads the journal for one type
func (h *harness) entries(typ activity.Type) ([]activity.Entry, error) {
	if err := h.engine.Flush(context.Background()); err != nil {
		return nil, err
	}
	return h.journal.Query(activity.Filter{Types: []activity.Type{typ}})
}

func ts(v float64) *float64 { return &v }

// ingestStuck feeds five minutes of compile errors and tab thrashing
func ingestStuck(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	start := types.Unix(h.clock.Now())
	h.clock.Advance(300 * time.Second)

	// 8 compile errors/min and 4 tab switches/min over the last ~5 minutes
	var raws []telemetry.RawEvent
	for i := 0; i < 39; i++ {
		raws = append(raws, telemetry.RawEvent{
			Source:    "ide",
			Type:      "COMPILE_ERROR",
			Timestamp: ts(start + 10 + float64(i)*7.5),
			Data:      map[string]any{"error_count": 3, "file": "main.py"},
		})
	}
	for i := 0; i < 20; i++ {
		to := "https://stackoverflow.com/q/1"
		if i%2 == 1 {
			to = "https://docs.python.org/3/"
		}
		raws = append(raws, telemetry.RawEvent{
			Source:    "browser",
			Type:      "TAB_SWITCH",
			Timestamp: ts(start + 10 + float64(i)*15),
			Data:      map[string]any{"to_url": to},
		})
	}
	res, err := h.engine.IngestBatch(ctx, raws)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Accepted != len(raws) {
		t.Fatalf("accepted %d of %d: %+v", res.Accepted, len(raws), res.Errors)
	}
}

// TestStuckEndToEnd tests that sustained compile errors with tab thrashing
// classify as stuck and the top directive suppresses notifications
func TestStuckEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ingestStuck(t, h)

	var (
		snap types.Snapshot
		err  error
	)
	for i := 0; i < 3; i++ {
		snap, err = h.engine.TickNow(ctx)
		if err != nil {
			t.Fatalf("TickNow: %v", err)
		}
		h.clock.Advance(2 * time.Second)
	}

	if snap.Features.CompileErrorRate <= 2 || snap.Features.TabSwitchRate <= 3 {
		t.Fatalf("unexpected features: %+v", snap.Features)
	}
	if snap.Context != types.ContextStuck {
		t.Fatalf("context: got %s, want stuck", snap.Context)
	}

	d, err := h.engine.Directives(ctx)
	if err != nil {
		t.Fatalf("Directives: %v", err)
	}
	if len(d.Directives) == 0 {
		t.Fatal("expected directives")
	}
	top := d.Directives[0]
	if top.ActionType != "suppress_notifications" {
		t.Errorf("top directive: got %s, want suppress_notifications", top.ActionType)
	}
	for _, dir := range d.Directives {
		if dir.Priority < top.Priority {
			t.Errorf("directive %s outranks the first one", dir.ActionType)
		}
	}
}

func TestAbandonedWindowIsUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ingestStuck(t, h)
	for i := 0; i < 3; i++ {
		if _, err := h.engine.TickNow(ctx); err != nil {
			t.Fatalf("TickNow: %v", err)
		}
		h.clock.Advance(2 * time.Second)
	}

	// learner walks away; every event ages out
	h.clock.Advance(30 * time.Minute)
	for i := 0; i < 2; i++ {
		snap, err := h.engine.TickNow(ctx)
		if err != nil {
			t.Fatalf("TickNow: %v", err)
		}
		if snap.Context != types.ContextUnknown {
			t.Errorf("tick %d: context %s, want unknown", i, snap.Context)
		}
		if snap.Confidence != 0 {
			t.Errorf("tick %d: confidence %v, want 0", i, snap.Confidence)
		}
		h.clock.Advance(2 * time.Second)
	}

	d, err := h.engine.Directives(ctx)
	if err != nil {
		t.Fatalf("Directives: %v", err)
	}
	for _, dir := range d.Directives {
		switch dir.ActionType {
		case "suppress_notifications", "activate_focus_mode":
			t.Errorf("unexpected directive %s for an empty window", dir.ActionType)
		}
	}
}

// TestUnknownSourceLeavesWindowUnchanged tests rejection of an unrecognized source
func TestUnknownSourceLeavesWindowUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Ingest(ctx, telemetry.RawEvent{Source: "fax", Type: "PAGE"})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	st, err := h.engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.WindowEvents != 0 {
		t.Errorf("window events: got %d, want 0", st.WindowEvents)
	}
}

// TestBatchRejectsPerItem tests that one bad element does not abort the batch
func TestBatchRejectsPerItem(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.IngestBatch(context.Background(), []telemetry.RawEvent{
		{Source: "ide", Type: "FILE_SAVE"},
		{Source: "ide", Type: "NOT_A_THING"},
		{Source: "desktop", Type: "WINDOW_FOCUS", Data: map[string]any{"app": "Terminal"}},
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Accepted != 2 || res.Total != 3 {
		t.Errorf("got accepted=%d total=%d, want 2/3", res.Accepted, res.Total)
	}
	if len(res.Errors) != 1 || res.Errors[0].Index != 1 {
		t.Errorf("unexpected errors: %+v", res.Errors)
	}
}

// TestTickRecordsAndPublishes tests the tail of the tick: timeline and push
func TestTickRecordsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	snap, err := h.engine.TickNow(context.Background())
	if err != nil {
		t.Fatalf("TickNow: %v", err)
	}
	if snap.Context != types.ContextUnknown {
		t.Errorf("empty window: got %s, want unknown", snap.Context)
	}

	select {
	case got := <-ch:
		if got.Timestamp != snap.Timestamp {
			t.Errorf("published timestamp %v, want %v", got.Timestamp, snap.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	if len(h.recorder.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(h.recorder.entries))
	}
	e := h.recorder.entries[0]
	if e.EventType != types.EventInferenceTick || e.Source != string(types.SourceEngine) {
		t.Errorf("unexpected entry: %+v", e)
	}
}

// TestFocusExpiresDuringTick tests that the tick notices and journals expiry
func TestFocusExpiresDuringTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.StartFocus(ctx, 1, true, "essay", "user"); err != nil {
		t.Fatalf("StartFocus: %v", err)
	}
	h.clock.Advance(61 * time.Second)
	if _, err := h.engine.TickNow(ctx); err != nil {
		t.Fatalf("TickNow: %v", err)
	}

	st, err := h.engine.Focus(ctx)
	if err != nil {
		t.Fatalf("Focus: %v", err)
	}
	if st.Active {
		t.Error("expected focus mode inactive after 61s")
	}
	expired, err := h.entries(activity.TypeFocusExpired)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(expired) != 1 {
		t.Errorf("got %d focus_expired entries, want 1", len(expired))
	}
}

// TestFocusRejectsBadDuration tests validation passthrough
func TestFocusRejectsBadDuration(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartFocus(context.Background(), 0, false, "", "user")
	if !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestPomodoroUsesRecommendedDuration tests that work length follows load
func TestPomodoroUsesRecommendedDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.StartPomodoro(ctx, 0, "user")
	if err != nil {
		t.Fatalf("StartPomodoro: %v", err)
	}
	want := tasks.RecommendedDuration(tasks.DefaultLoad) * 60
	if st.DurationSeconds != want {
		t.Errorf("duration: got %d, want %d", st.DurationSeconds, want)
	}

	// a second start while running is a no-op
	h.clock.Advance(time.Minute)
	again, err := h.engine.StartPomodoro(ctx, 10*time.Minute, "user")
	if err != nil {
		t.Fatalf("StartPomodoro: %v", err)
	}
	if again.PhaseStartTS != st.PhaseStartTS || again.DurationSeconds != want {
		t.Errorf("restart changed the running phase: %+v", again)
	}

	stopped, err := h.engine.StopPomodoro(ctx, "user")
	if err != nil {
		t.Fatalf("StopPomodoro: %v", err)
	}
	if stopped.Phase != "idle" {
		t.Errorf("phase after stop: %s", stopped.Phase)
	}
	started, _ := h.entries(activity.TypePomodoroStarted)
	if len(started) != 1 {
		t.Errorf("got %d pomodoro_started entries, want 1", len(started))
	}
}

// TestTaskLifecycle tests add, duplicate, complete and remove through the loop
func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.AddTask(ctx, types.Task{ID: "t1", Title: "Proofs", Difficulty: types.DifficultyHard}, "user"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := h.engine.AddTask(ctx, types.Task{ID: "t1", Title: "Again"}, "user"); !errors.Is(err, types.ErrDuplicateID) {
		t.Errorf("expected duplicate id error, got %v", err)
	}
	added, err := h.engine.AddTask(ctx, types.Task{Title: "Flashcards", Difficulty: types.DifficultyReview}, "user")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if added.ID == "" {
		t.Error("expected a generated id")
	}

	list, err := h.engine.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(list.Tasks) != 2 || list.Current == nil {
		t.Fatalf("unexpected list: %+v", list)
	}

	// normal regime keeps insertion order
	done, err := h.engine.CompleteTask(ctx, "user")
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if done.ID != "t1" {
		t.Errorf("completed %s, want t1", done.ID)
	}
	if _, err := h.engine.RemoveTask(ctx, "t1", "user"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("removing a completed task: got %v, want not found", err)
	}
	if _, err := h.engine.RemoveTask(ctx, added.ID, "user"); err != nil {
		t.Errorf("RemoveTask: %v", err)
	}
}

// TestTasksPersistAcrossRestart tests that the queue is saved on edit
func TestTasksPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	first := New(Options{StatePath: dir}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { first.Run(ctx); close(done) }()
	if _, err := first.AddTask(context.Background(), types.Task{ID: "a", Title: "Read ch. 3"}, "user"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	cancel()
	<-done

	second := New(Options{StatePath: dir}, Deps{})
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go second.Run(ctx2)
	list, err := second.Tasks(context.Background())
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != "a" {
		t.Errorf("restored tasks: %+v", list.Tasks)
	}
}

// TestSettingsPatch tests propagation and all-or-nothing rejection
func TestSettingsPatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	high := 0.5
	cur, err := h.engine.PatchSettings(ctx, settings.Patch{HighLoadThreshold: &high}, "user")
	if err != nil {
		t.Fatalf("PatchSettings: %v", err)
	}
	if cur.HighLoadThreshold != 0.5 {
		t.Errorf("high threshold: got %v", cur.HighLoadThreshold)
	}

	gap := 1
	short := 120
	_, err = h.engine.PatchSettings(ctx, settings.Patch{SessionGapMinutes: &gap, ShortBreakSeconds: &short}, "user")
	if !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if got := h.engine.Settings().ShortBreakSeconds; got != 300 {
		t.Errorf("rejected patch leaked: short_break_seconds=%d", got)
	}
}

// TestControllerFaultIsolated tests that a panicking controller is contained
func TestControllerFaultIsolated(t *testing.T) {
	h := newHarness(t)

	ran := false
	err := h.engine.do(context.Background(), func() {
		h.engine.guard("pomodoro", func() { panic(fmt.Sprintf("boom %d", 1)) })
		h.engine.guard("focus", func() { ran = true })
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !ran {
		t.Error("second controller did not run after the first faulted")
	}
	faults, err := h.entries(activity.TypeFault)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(faults) != 1 || faults[0].Data["controller"] != "pomodoro" {
		t.Errorf("unexpected fault entries: %+v", faults)
	}
}

// TestStoppedEngine tests calls after Run returns
func TestStoppedEngine(t *testing.T) {
	h := newHarness(t)
	h.stop()

	if _, err := h.engine.State(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

// TestPersistenceLeavesLoop tests that journal and task writes happen off
// the loop and are all on disk after Flush
func TestPersistenceLeavesLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.engine.AddTask(ctx, types.Task{Title: fmt.Sprintf("task %d", i)}, "user"); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}
	added, err := h.entries(activity.TypeTaskAdded)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(added) != 5 {
		t.Errorf("got %d task_added entries, want 5", len(added))
	}
	for _, e := range added {
		if !e.Timestamp.Equal(h.clock.Now()) {
			t.Errorf("entry stamped %v, want engine clock %v", e.Timestamp, h.clock.Now())
		}
	}

	q := tasks.NewQueue(filepath.Join(h.dir, "tasks.json"), 0.75, 0.35)
	if err := q.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if q.Count() != 5 {
		t.Errorf("tasks on disk: got %d, want 5", q.Count())
	}
}

func TestPersisterWritesInlineWhenFull(t *testing.T) {
	dir := t.TempDir()
	journal := activity.New(dir)
	p := &persister{
		journal: journal,
		queue:   tasks.NewQueue("", 0.75, 0.35),
		jobs:    make(chan persistJob), // no reader: every submit overflows
		done:    make(chan struct{}),
	}
	p.submit(persistJob{entry: &activity.Entry{Type: activity.TypeSettings, Summary: "inline"}})

	got, err := journal.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "inline" {
		t.Errorf("got %+v", got)
	}
}

// sourceLabels returns the source label values of one counter family
func sourceLabels(t *testing.T, family string) map[string]float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "source" {
					out[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

// TestEventMetricsUseCanonicalSource tests that source spelling does not
// split the per-source counters
func TestEventMetricsUseCanonicalSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before := sourceLabels(t, "clr_events_accepted_total")["ide"]
	if _, err := h.engine.Ingest(ctx, telemetry.RawEvent{Source: "IDE", Type: "FILE_SAVE"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	res, err := h.engine.IngestBatch(ctx, []telemetry.RawEvent{
		{Source: " Ide ", Type: "FILE_SAVE"},
		{Source: "ide", Type: "FILE_SAVE"},
		{Source: "FAX", Type: "PAGE"},
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Accepted != 2 {
		t.Fatalf("accepted = %d, want 2", res.Accepted)
	}

	accepted := sourceLabels(t, "clr_events_accepted_total")
	if got := accepted["ide"] - before; got != 3 {
		t.Errorf("ide accepted delta = %v, want 3", got)
	}
	known := map[string]bool{"browser": true, "ide": true, "desktop": true, "lms": true, "unknown": true}
	for label := range accepted {
		if !known[label] {
			t.Errorf("accepted counter has non-canonical label %q", label)
		}
	}
	for label := range sourceLabels(t, "clr_events_rejected_total") {
		if !known[label] {
			t.Errorf("rejected counter has non-canonical label %q", label)
		}
	}
}
