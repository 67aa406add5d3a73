package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calewis/plainread/internal/config"
	"github.com/calewis/plainread/internal/docstore"
	"github.com/calewis/plainread/internal/pipeline"
	"github.com/calewis/plainread/internal/rewrite"
)

// Server is the HTTP API for plainread.
type Server struct {
	router chi.Router
	runner *pipeline.Runner
	jobs   *pipeline.JobStore
	store  docstore.Store
	stats  func() rewrite.StatsSnapshot
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(runner *pipeline.Runner, jobs *pipeline.JobStore, store docstore.Store, stats func() rewrite.StatsSnapshot, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		runner: runner,
		jobs:   jobs,
		store:  store,
		stats:  stats,
		log:    log,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints. The image proxy is unauthenticated because it is
	// loaded by <img> tags, which cannot carry a bearer token.
	r.Get("/health", s.handleHealth)
	r.Get("/api/image", s.handleImage)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.ServiceAPIKey, s.log))

		r.Post("/api/papers", s.handleStartRun)
		r.Get("/api/papers/{jobID}/events", s.handleRunEvents)
		r.Get("/api/papers/{jobID}/status", s.handleRunStatus)

		r.Get("/api/paper", s.handleGetPaper)
		r.Get("/api/paper/html", s.handleGetPaperHTML)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
