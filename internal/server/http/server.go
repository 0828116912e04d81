// Package httpserver provides the HTTP REST API server for the research analysis service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/database"
	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/intake"
	"github.com/helixir/research-analysis-service/internal/repository"
)

// JobService is the subset of the pipeline orchestrator used by the HTTP server.
type JobService interface {
	SubmitWithID(ctx context.Context, id, query string, opts domain.JobOptions) (string, error)
	Cancel(id string) error
	Get(id string) (domain.Job, error)
	List() []domain.Job
	Result(id string) (*domain.ResultRef, error)
	Report(ctx context.Context, id string) (*domain.Report, error)
	Delete(id string) error
	Active() int
}

// EventSubscriber opens live progress subscriptions for a job.
type EventSubscriber interface {
	Subscribe(jobID string) *broadcast.Subscription
}

// HealthChecker reports backing store health. *database.DB implements it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	jobs       JobService
	events     EventSubscriber
	reports    repository.ReportRepository
	health     HealthChecker
	validator  *intake.Validator
	logger     zerolog.Logger
	cors       cors.Options
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// CORSAllowedOrigins lists the origins allowed by the CORS middleware.
	CORSAllowedOrigins []string
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithReports enables the report listing endpoints.
func WithReports(reports repository.ReportRepository) Option {
	return func(s *Server) { s.reports = reports }
}

// WithHealthChecker makes readiness depend on the given checker.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithValidator overrides the request validator.
func WithValidator(v *intake.Validator) Option {
	return func(s *Server) { s.validator = v }
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, jobs JobService, events EventSubscriber, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		jobs:   jobs,
		events: events,
		logger: logger.With().Str("component", "http-server").Logger(),
		cors: cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID", "Last-Event-ID"},
			ExposedHeaders:   []string{"X-Correlation-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = intake.NewValidator()
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.cors))
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", s.submitAnalysis)
			r.Get("/", s.listAnalyses)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.getAnalysis)
				r.Delete("/", s.deleteAnalysis)
				r.Post("/cancel", s.cancelAnalysis)
				r.Get("/result", s.getAnalysisResult)
				r.Get("/report", s.getAnalysisReport)
				r.Get("/events", s.streamEvents)
			})
		})

		r.Get("/analytics/summary", s.getAnalyticsSummary)

		if s.reports != nil {
			r.Get("/reports", s.listReports)
			r.Get("/reports/{reportID}", s.getReport)
		}
	})

	return r
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"active_jobs": s.jobs.Active(),
	})
}

// readinessHandler reports whether the server can accept jobs. Without a
// database the in-memory store is always ready.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{
		Error: message,
		Code:  code,
	})
}
