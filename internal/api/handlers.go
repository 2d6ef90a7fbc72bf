package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/focus"
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/telemetry"
	"github.com/vthunder/clr/internal/timeline"
	"github.com/vthunder/clr/internal/types"
)

var errNoTimeline = errors.New("timeline store not configured")

// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	body := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"estimator":  st.Estimator,
		"engine":     st,
		"goroutines": runtime.NumGoroutine(),
	}
	if s.sampler != nil {
		body["process"] = s.sampler.Last()
		body["uptime_seconds"] = int64(s.sampler.Uptime().Seconds())
	}
	respondJSON(w, http.StatusOK, body)
}

// State

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.State(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Telemetry

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var raw telemetry.RawEvent
	if err := decodeJSON(r, &raw, false); err != nil {
		respondErr(w, err)
		return
	}
	if _, err := s.engine.Ingest(r.Context(), raw); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var raws []telemetry.RawEvent
	if err := decodeBody(r, &raws, false); err != nil {
		respondErr(w, err)
		return
	}
	res, err := s.engine.IngestBatch(r.Context(), raws)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

// Directives

func (s *Server) handleDirectives(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Directives(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// Focus mode

type focusStartRequest struct {
	DurationMinutes float64 `json:"duration_minutes" validate:"omitempty,gt=0,lte=240"`
	BlockTabs       *bool   `json:"block_tabs"`
	Reason          string  `json:"reason" validate:"max=500"`
	SetBy           string  `json:"set_by" validate:"omitempty,oneof=user policy mcp"`
}

func (s *Server) handleFocusStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Focus(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleFocusStart(w http.ResponseWriter, r *http.Request) {
	var req focusStartRequest
	if err := decodeJSON(r, &req, true); err != nil {
		respondErr(w, err)
		return
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = focus.DefaultDurationMinutes
	}
	blockTabs := true
	if req.BlockTabs != nil {
		blockTabs = *req.BlockTabs
	}
	if req.SetBy == "" {
		req.SetBy = "user"
	}
	st, err := s.engine.StartFocus(r.Context(), req.DurationMinutes, blockTabs, req.Reason, req.SetBy)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleFocusStop(w http.ResponseWriter, r *http.Request) {
	st, was, err := s.engine.StopFocus(r.Context(), "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": st, "was_active": was})
}

// Pomodoro

type pomodoroStartRequest struct {
	WorkMinutes float64 `json:"work_minutes" validate:"omitempty,gt=0,lte=120"`
}

func (s *Server) handlePomodoroStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Pomodoro(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handlePomodoroStart(w http.ResponseWriter, r *http.Request) {
	var req pomodoroStartRequest
	if err := decodeJSON(r, &req, true); err != nil {
		respondErr(w, err)
		return
	}
	override := time.Duration(req.WorkMinutes * float64(time.Minute))
	st, err := s.engine.StartPomodoro(r.Context(), override, "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handlePomodoroStop(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.StopPomodoro(r.Context(), "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Tasks

type taskRequest struct {
	ID               string   `json:"id" validate:"max=128"`
	Title            string   `json:"title" validate:"required,max=500"`
	Difficulty       string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard review"`
	EstimatedMinutes int      `json:"estimated_minutes" validate:"gte=0,lte=1440"`
	Tags             []string `json:"tags" validate:"max=32,dive,max=64"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Tasks(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondErr(w, err)
		return
	}
	task, err := s.engine.AddTask(r.Context(), types.Task{
		ID:               req.ID,
		Title:            req.Title,
		Difficulty:       types.Difficulty(req.Difficulty),
		EstimatedMinutes: req.EstimatedMinutes,
		Tags:             req.Tags,
	}, "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.CompleteTask(r.Context(), "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.engine.RemoveTask(r.Context(), id, "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": task})
}

// Timeline

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		respondError(w, http.StatusServiceUnavailable, errNoTimeline)
		return
	}
	f, err := timelineFilter(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	entries, err := s.timeline.Query(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func timelineFilter(r *http.Request) (timeline.Filter, error) {
	var f timeline.Filter
	since, _, err := queryFloat(r, "since")
	if err != nil {
		return f, err
	}
	until, _, err := queryFloat(r, "until")
	if err != nil {
		return f, err
	}
	limit, err := queryInt(r, "limit", timeline.DefaultLimit)
	if err != nil {
		return f, err
	}
	if limit < 1 || limit > timeline.MaxLimit {
		return f, fmt.Errorf("%w: limit must be in [1, %d]", types.ErrValidation, timeline.MaxLimit)
	}
	f.Since = since
	f.Until = until
	f.Source = r.URL.Query().Get("source")
	f.Limit = limit
	return f, nil
}

func (s *Server) handleLoadHistory(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		respondError(w, http.StatusServiceUnavailable, errNoTimeline)
		return
	}
	window, err := queryInt(r, "window_s", 300)
	if err != nil {
		respondErr(w, err)
		return
	}
	if window <= 0 {
		respondErr(w, fmt.Errorf("%w: window_s must be positive", types.ErrValidation))
		return
	}
	scores, err := s.timeline.LoadHistory(r.Context(), types.Unix(s.now()), float64(window))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"scores":         scores,
		"window_seconds": window,
		"count":          len(scores),
	})
}

// sessionRange reads since/until/gap_minutes. Missing gap falls back to
// the session_gap_minutes setting; missing since falls back to defSince.
func (s *Server) sessionRange(r *http.Request, defSince time.Duration) (since, until float64, gap time.Duration, err error) {
	var ok bool
	if since, ok, err = queryFloat(r, "since"); err != nil {
		return
	} else if !ok && defSince > 0 {
		since = types.Unix(s.now().Add(-defSince))
	}
	if until, _, err = queryFloat(r, "until"); err != nil {
		return
	}
	gap = s.engine.Settings().SessionGap()
	g, ok, err := queryFloat(r, "gap_minutes")
	if err != nil {
		return
	}
	if ok {
		if g <= 0 {
			err = fmt.Errorf("%w: gap_minutes must be positive", types.ErrValidation)
			return
		}
		gap = time.Duration(g * float64(time.Minute))
	}
	return
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		respondError(w, http.StatusServiceUnavailable, errNoTimeline)
		return
	}
	since, until, gap, err := s.sessionRange(r, 0)
	if err != nil {
		respondErr(w, err)
		return
	}
	sessions, err := s.timeline.Sessions(r.Context(), since, until, gap)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		respondError(w, http.StatusServiceUnavailable, errNoTimeline)
		return
	}
	since, until, gap, err := s.sessionRange(r, 7*24*time.Hour)
	if err != nil {
		respondErr(w, err)
		return
	}
	stats, err := s.timeline.DailyStats(r.Context(), since, until, gap)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Settings

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"settings": s.engine.Settings(),
		"defaults": settings.Defaults(),
	})
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := decodeBody(r, &p, false); err != nil {
		respondErr(w, err)
		return
	}
	if p.Empty() {
		s.handleGetSettings(w, r)
		return
	}
	cur, err := s.engine.PatchSettings(r.Context(), p, "user")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"settings": cur,
		"defaults": settings.Defaults(),
	})
}

// Activity

// activityFilter reads type (comma separated), since/until (unix seconds),
// today=1, q and limit
func (s *Server) activityFilter(r *http.Request) (activity.Filter, error) {
	var f activity.Filter
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		return f, err
	}
	if limit < 1 || limit > 1000 {
		return f, fmt.Errorf("%w: limit must be in [1, 1000]", types.ErrValidation)
	}
	f.Limit = limit

	q := r.URL.Query()
	if raw := q.Get("type"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t := activity.Type(strings.TrimSpace(name))
			if !t.Valid() {
				return f, fmt.Errorf("%w: unknown activity type %q", types.ErrValidation, t)
			}
			f.Types = append(f.Types, t)
		}
	}

	since, ok, err := queryFloat(r, "since")
	if err != nil {
		return f, err
	}
	if ok {
		f.Since = types.FromUnix(since)
	}
	until, ok, err := queryFloat(r, "until")
	if err != nil {
		return f, err
	}
	if ok {
		f.Until = types.FromUnix(until)
	}
	switch q.Get("today") {
	case "", "0", "false":
	default:
		f.Since, f.Until = activity.Day(s.now())
	}

	f.Text = q.Get("q")
	return f, nil
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	f, err := s.activityFilter(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	if s.activity == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	// entries queued by the engine land before we read
	if err := s.engine.Flush(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	entries, err := s.activity.Query(f)
	if err != nil {
		respondErr(w, err)
		return
	}
	if entries == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
