// Package api is the HTTP transport for the router: telemetry ingestion,
// state pull and push, action control, timeline queries and settings.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/engine"
	"github.com/vthunder/clr/internal/health"
	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/metrics"
	"github.com/vthunder/clr/internal/stream"
	"github.com/vthunder/clr/internal/timeline"
)

// TimelineReader is the read side of the timeline store
type TimelineReader interface {
	Query(ctx context.Context, f timeline.Filter) ([]timeline.Entry, error)
	LoadHistory(ctx context.Context, now, windowSeconds float64) ([]float64, error)
	Sessions(ctx context.Context, since, until float64, gap time.Duration) ([]timeline.Session, error)
	DailyStats(ctx context.Context, since, until float64, gap time.Duration) ([]timeline.DailyStat, error)
}

// Config wires the server to the engine and its stores
type Config struct {
	Addr     string
	Version  string
	Engine   *engine.Engine
	Hub      *stream.Hub
	Timeline TimelineReader  // optional; timeline routes return 503 without it
	Activity *activity.Log   // optional
	Sampler  *health.Sampler // optional
	Now      func() time.Time
}

// Server is the router's HTTP API
type Server struct {
	engine   *engine.Engine
	hub      *stream.Hub
	timeline TimelineReader
	activity *activity.Log
	sampler  *health.Sampler
	version  string
	now      func() time.Time

	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the router and the underlying http.Server
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8765"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Hub == nil {
		cfg.Hub = stream.NewHub()
	}
	s := &Server{
		engine:   cfg.Engine,
		hub:      cfg.Hub,
		timeline: cfg.Timeline,
		activity: cfg.Activity,
		sampler:  cfg.Sampler,
		version:  cfg.Version,
		now:      cfg.Now,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(withLogging)
	r.Use(withCORS)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/state", func(r chi.Router) {
		r.Get("/", s.handleState)
		r.Get("/ws", s.handleStateWS)
	})

	r.Route("/telemetry", func(r chi.Router) {
		r.Post("/event", s.handleIngestEvent)
		r.Post("/batch", s.handleIngestBatch)
	})

	r.Route("/actions", func(r chi.Router) {
		r.Get("/directives", s.handleDirectives)

		r.Get("/focus", s.handleFocusStatus)
		r.Post("/focus/start", s.handleFocusStart)
		r.Post("/focus/stop", s.handleFocusStop)

		r.Get("/pomodoro", s.handlePomodoroStatus)
		r.Post("/pomodoro/start", s.handlePomodoroStart)
		r.Post("/pomodoro/stop", s.handlePomodoroStop)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleAddTask)
		r.Post("/tasks/complete", s.handleCompleteTask)
		r.Delete("/tasks/{id}", s.handleRemoveTask)
	})

	r.Route("/timeline", func(r chi.Router) {
		r.Get("/", s.handleTimeline)
		r.Get("/load-history", s.handleLoadHistory)
		r.Get("/sessions", s.handleSessions)
		r.Get("/stats/daily", s.handleDailyStats)
	})

	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePatchSettings)
	r.Patch("/settings", s.handlePatchSettings)

	r.Get("/activity", s.handleActivity)
	return r
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	logging.Info("api", "Listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Middleware
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("api", "%s %s %s %v", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
