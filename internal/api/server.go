// Package api serves the management HTTP API: employee records, health,
// Prometheus metrics and the live scan event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/rfidgate/internal/auth"
	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/events"
)

// EmployeeStore defines the directory operations exposed over HTTP.
type EmployeeStore interface {
	List(ctx context.Context) ([]directory.Employee, error)
	FindByID(ctx context.Context, rfid string) (*directory.Employee, error)
	Save(ctx context.Context, e directory.Employee) (*directory.Employee, error)
	Delete(ctx context.Context, rfid string) error
	Count(ctx context.Context) (int, error)
}

// SessionCounter reports live reader connections.
type SessionCounter interface {
	ActiveSessions() int
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Tokens is the list of scoped bearer tokens.
	Tokens          []auth.TokenConfig
	VerifierEnabled bool
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	store     EmployeeStore
	sessions  SessionCounter
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. sessions may be nil when no reader
// server runs in this process.
func New(config Config, store EmployeeStore, sessions SessionCounter, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		store:     store,
		sessions:  sessions,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second, // the event stream clears its own deadline
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/api/v1/employees", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeEmployeesRO)).Get("/", s.handleListEmployees)
			r.With(s.requireScopes(auth.ScopeEmployeesRO)).Get("/{rfid}", s.handleGetEmployee)
			r.With(s.requireScopes(auth.ScopeEmployeesRW)).Post("/", s.handleCreateEmployee)
			r.With(s.requireScopes(auth.ScopeEmployeesRW)).Delete("/{rfid}", s.handleDeleteEmployee)
		})

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
