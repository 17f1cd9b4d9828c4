// Package http exposes the mentorship service over REST.
// Every response uses the same envelope: success flag, data or error, request id.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/clock"

	"github.com/alem-hub/mentorship-hub/internal/application/command"
	"github.com/alem-hub/mentorship-hub/internal/application/query"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle connections.
	IdleTimeout time.Duration

	// RequestTimeout - deadline attached to every request context.
	// A lifecycle write still finishes after it; the client gets 504.
	RequestTimeout time.Duration

	// MaxBodyBytes - maximum size of a request body.
	MaxBodyBytes int64

	// APIKeyHeader - header name for admin API key authentication.
	APIKeyHeader string

	// APIKeyHashes - bcrypt hashes of the accepted admin API keys.
	APIKeyHashes []string

	// RateLimitPerMinute - lifecycle writes allowed per client IP. Zero disables.
	RateLimitPerMinute int

	// RateLimitBurst - writes a client may send at once.
	RateLimitBurst int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   1 << 20,
		APIKeyHeader:   "X-API-Key",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains everything the handlers call into.
type Dependencies struct {
	// Lifecycle is the write side.
	Lifecycle *command.Lifecycle

	// Read side.
	Candidates *query.FindCandidatesHandler
	Pending    *query.ListPendingHandler
	Mentorship *query.GetMentorshipHandler

	// SuggestNextCandidate enables details.next_candidate on capacity_exceeded.
	// Nil means enabled.
	SuggestNextCandidate func() bool

	// Health aggregates readiness checks. Nil reports healthy.
	Health *HealthChecker

	Logger *logger.Logger

	// Clock drives the rate limiter. Nil means wall clock.
	Clock clock.Clock
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	auth       *APIKeyAuth
	limiter    *RateLimiter
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Lifecycle == nil || deps.Candidates == nil || deps.Pending == nil || deps.Mentorship == nil {
		return nil, errors.New("http: lifecycle and query handlers are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.SuggestNextCandidate == nil {
		deps.SuggestNextCandidate = func() bool { return true }
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker("")
	}

	auth, err := NewAPIKeyAuth(config.APIKeyHeader, config.APIKeyHashes)
	if err != nil {
		return nil, err
	}

	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: config.RateLimitPerMinute,
		BurstSize:         config.RateLimitBurst,
		Clock:             deps.Clock,
	})

	s := &Server{
		config:  config,
		deps:    deps,
		auth:    auth,
		limiter: limiter,
		logger:  deps.Logger.With(logger.Component("http")),
	}
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// probes skip the request timeout and body limit
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(s.config.RequestTimeout))
		}
		if s.config.MaxBodyBytes > 0 {
			r.Use(middleware.RequestSize(s.config.MaxBodyBytes))
		}

		r.Get("/students/{uid}/candidates", s.handleFindCandidates)
		r.Get("/students/{uid}/pending", s.handleListPendingForStudent)
		r.Get("/mentors/{uid}/pending", s.handleListPendingForMentor)

		limited := r.With(s.limiter.Middleware)
		limited.Post("/mentorships", s.handleRequestMentorship)
		r.Route("/mentorships/{studentUID}/{mentorUID}", func(r chi.Router) {
			r.Get("/", s.handleGetMentorship)

			limited := r.With(s.limiter.Middleware)
			limited.Post("/respond", s.handleRespond)
			limited.Post("/terminate", s.handleTerminate)
			limited.Post("/annotations", s.handleAnnotate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Put("/users/{uid}", s.handleSaveUser)
			r.Post("/reconcile", s.handleReconcile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
