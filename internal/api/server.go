package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/solvient/problem-engine/internal/config"
	"github.com/solvient/problem-engine/internal/models"
	"github.com/solvient/problem-engine/internal/queue"
	"github.com/solvient/problem-engine/internal/storage"
)

// ProblemService handles problem intake and payment confirmation
type ProblemService interface {
	Submit(ctx context.Context, clientID int64, req models.SubmitRequest) (*models.Problem, error)
	ConfirmPayment(ctx context.Context, problemID string) (*models.Problem, error)
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	service        ProblemService
	repo           storage.Repository
	queue          queue.Queue
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	service ProblemService,
	repo storage.Repository,
	q queue.Queue,
) *Server {
	s := &Server{
		config:         cfg,
		service:        service,
		repo:           repo,
		queue:          q,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request timeout for everything except the watch stream, which stays
	// open for the lifetime of an execution.
	timeout := middleware.Timeout(60 * time.Second)

	// Health check (outside versioned API - public)
	r.With(timeout).Get("/health", s.handleHealth)
	r.With(timeout).Get("/ready", s.handleReady)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		readProblems := s.authMiddleware.RequirePermission("problems:read")
		writeProblems := s.authMiddleware.RequirePermission("problems:write")
		readCatalog := s.authMiddleware.RequirePermission("catalog:read")
		readRevenue := s.authMiddleware.RequirePermission("revenue:read")

		// Problems
		r.With(timeout, readProblems).Get("/problems", s.handleListProblems)
		r.With(timeout, writeProblems).Post("/problems", s.handleSubmitProblem)
		r.With(timeout, readProblems).Get("/problems/{id}", s.handleGetProblem)
		r.With(readProblems).Get("/problems/{id}/watch", s.handleWatchProblem)

		// Payments
		r.With(timeout, writeProblems).Post("/payments/confirm", s.handleConfirmPayment)

		// Catalog
		r.With(timeout, readCatalog).Get("/catalog/flows", s.handleListFlows)
		r.With(timeout, readCatalog).Get("/catalog/flows/{name}", s.handleGetFlow)
		r.With(timeout, readCatalog).Get("/catalog/operators", s.handleListOperators)
		r.With(timeout, readCatalog).Get("/catalog/operators/{name}", s.handleGetOperator)

		// Revenue
		r.With(timeout, readRevenue).Get("/revenue/summary", s.handleRevenueSummary)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
