package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tira-io/tirad/internal/engine"
	"github.com/tira-io/tirad/internal/journal"
	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/state"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 60 * time.Second
)

// Runs is the part of the run store the API mutates or lists directly.
type Runs interface {
	ListUserRuns(user string) ([]model.RunKey, error)
	UpdateReviewCriteria(ctx context.Context, key model.RunKey, reviewerID string, c model.ReviewCriteria) (model.RunReview, error)
	UpdateReviewVisibility(ctx context.Context, key model.RunKey, reviewerID string, published, blinded *bool) (model.RunReview, error)
	DeleteRun(key model.RunKey) error
}

// Catalog resolves a user's virtual machine.
type Catalog interface {
	UserVM(user string) (model.VirtualMachine, error)
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	engine    *engine.Engine
	collector *state.Collector
	runs      Runs
	catalog   Catalog
	journal   journal.Journal
	logger    *slog.Logger
	addr      string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, eng *engine.Engine, col *state.Collector, runs Runs, cat Catalog, j journal.Journal, logger *slog.Logger) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		engine:    eng,
		collector: col,
		runs:      runs,
		catalog:   cat,
		journal:   j,
		logger:    logger,
		addr:      addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", headerUser, headerRoles},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(principalMiddleware)

		r.Route("/tasks/{task}/users/{user}", func(r chi.Router) {
			r.Post("/runs", s.handleSubmitSoftwareRun)
			r.Post("/evaluations", s.handleSubmitEvaluatorRun)
			r.Post("/kill", s.handleKill)
			r.Get("/vm", s.handleGetVMState)
		})

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/runs", s.handleListUserRuns)
			r.Get("/process", s.handleGetProcess)
			r.Get("/vm/metrics", s.handleGetVMMetrics)
			r.Post("/vm/start", s.handleVMJob(s.engine.StartVM))
			r.Post("/vm/stop", s.handleVMJob(s.engine.StopVM))
			r.Post("/vm/shutdown", s.handleVMJob(s.engine.ShutdownVM))
		})

		r.Route("/runs/{dataset}/{user}/{run}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Delete("/", s.handleDeleteRun)
			r.Put("/review", s.handleUpdateReview)
			r.Put("/review/visibility", s.handleUpdateVisibility)
		})

		r.Get("/processes", s.handleListProcesses)
		r.Get("/journal", s.handleListJournal)
		r.Get("/journal/stats", s.handleJournalStats)
		r.Get("/events", s.handleStreamEvents)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// End event streams so Shutdown does not wait for them.
	s.engine.Broker().Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"user", r.Header.Get(headerUser),
		)
	})
}
