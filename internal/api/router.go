package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskschedule/internal/core"
	"taskschedule/internal/store"
	"taskschedule/internal/workflow"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	store      *store.Store
	engine     *core.Scheduler
	workflow   *workflow.Scheduler
	mcpHandler http.Handler
	logger     *slog.Logger
	location   *time.Location
	now        func() time.Time
	authToken  string
}

// Options carries the dependencies of the API server.
type Options struct {
	Addr      string
	AuthToken string
	Store     *store.Store
	Engine    *core.Scheduler
	Workflow  *workflow.Scheduler
	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler
	Logger     *slog.Logger
	Location   *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	location := opts.Location
	if location == nil {
		location = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		router:     router,
		store:      opts.Store,
		engine:     opts.Engine,
		workflow:   opts.Workflow,
		mcpHandler: opts.MCPHandler,
		logger:     opts.Logger,
		location:   location,
		now:        now,
		authToken:  opts.AuthToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.mcpHandler != nil {
		var mcpHandler = s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/boundary/preview", s.handleBoundaryPreview)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleScheduleTask)

			r.Route("/{taskName}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/run", s.handleRunTask)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/{runID}", s.handleGetRun)
			r.Get("/{runID}/log", s.handleRunLog)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
