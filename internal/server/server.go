// Package server provides the operator control surface: job configuration,
// platform authorization tasks, manual generation and a live event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/events"
	"github.com/kanaz606/auto-geo/internal/logging"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/scheduler"
	"github.com/kanaz606/auto-geo/internal/server/middleware"
	"github.com/kanaz606/auto-geo/internal/server/ratelimit"
	"github.com/kanaz606/auto-geo/internal/session"
)

// Scheduler is the part of the scheduler engine the server drives.
type Scheduler interface {
	Jobs() []scheduler.JobInfo
	Handles(key string) bool
	Reload(ctx context.Context, key string) error
}

// Store persists job definitions and content items.
type Store interface {
	ListJobDefinitions(ctx context.Context) ([]db.JobDefinition, error)
	GetJobDefinition(ctx context.Context, key string) (*db.JobDefinition, error)
	UpsertJobDefinition(ctx context.Context, def db.JobDefinition) (*db.JobDefinition, error)
	CreateContentItem(ctx context.Context, input db.NewContentItemInput) (*db.ContentItem, error)
	GetContentItem(ctx context.Context, id uuid.UUID) (*db.ContentItem, error)
}

// Sessions runs authorization tasks.
type Sessions interface {
	Platforms() []publisher.Platform
	StartAuthorization(ctx context.Context, platformID string) (session.AuthTask, error)
	AuthTask(id uuid.UUID) (session.AuthTask, error)
	AuthTasks() []session.AuthTask
	Confirm(id uuid.UUID) error
	CloseAuthTask(id uuid.UUID) error
}

// Generator queues manual article generation.
type Generator interface {
	Generate(ctx context.Context, id uuid.UUID) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store     Store
	Scheduler Scheduler
	Sessions  Sessions
	Generator Generator
	Events    *events.Broadcaster
	Operator  *config.OperatorConfig
	JWT       *config.JWTConfig
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	store      Store
	scheduler  Scheduler
	sessions   Sessions
	generator  Generator
	events     *events.Broadcaster
	operator   *config.OperatorConfig
	tokens     *JWTService
	limiter    *ratelimit.Limiter
	validate   *validator.Validate
	log        *slog.Logger

	// closing ends open event streams, which Shutdown would otherwise wait on
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates the server listening on addr.
func New(addr string, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Scheduler == nil || deps.Sessions == nil || deps.Generator == nil {
		return nil, errors.New("server requires store, scheduler, sessions and generator")
	}
	if deps.JWT == nil {
		return nil, errors.New("server requires a JWT configuration")
	}

	s := &Server{
		store:     deps.Store,
		scheduler: deps.Scheduler,
		sessions:  deps.Sessions,
		generator: deps.Generator,
		events:    deps.Events,
		operator:  deps.Operator,
		tokens:    NewJWTService(deps.JWT),
		limiter:   deps.Limiter,
		validate:  validator.New(),
		log:       logging.Module(deps.Logger, "server"),
		closing:   make(chan struct{}),
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLimiter(ratelimit.LoadConfig())
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: the event stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}
	return s, nil
}

// Handler builds the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	auth := middleware.AuthMiddleware(s.tokens.AsTokenValidator())
	protect := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.Handle("GET /jobs", protect(s.handleListJobs))
	mux.Handle("PUT /jobs/{key}", protect(s.handleUpdateJob))
	mux.Handle("POST /jobs/{key}/reload", protect(s.handleReloadJob))

	mux.Handle("GET /platforms", protect(s.handleListPlatforms))
	mux.Handle("GET /auth-tasks", protect(s.handleListAuthTasks))
	mux.Handle("POST /auth-tasks", protect(s.handleStartAuthTask))
	mux.Handle("GET /auth-tasks/{id}", protect(s.handleGetAuthTask))
	mux.Handle("POST /auth-tasks/{id}/confirm", protect(s.handleConfirmAuthTask))
	mux.Handle("DELETE /auth-tasks/{id}", protect(s.handleCloseAuthTask))

	mux.Handle("POST /items", protect(s.handleCreateItem))
	mux.Handle("GET /items/{id}", protect(s.handleGetItem))
	mux.Handle("POST /items/{id}/generate", protect(s.handleGenerateItem))

	mux.Handle("GET /events", protect(s.handleEvents))

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.closeStreams()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.limiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.limiter.Allow(clientID(r), r.URL.Path, r.Method)
		if d.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		if !d.Allowed {
			s.rateLimitResponse(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"remote", r.RemoteAddr, "duration", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure writes err with the status HTTPStatus picks for it.
func (s *Server) failure(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.errorResponse(w, status, err.Error())
}

// decode reads a JSON body and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON"}
	}
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return &ErrValidation{Field: errs[0].Field(), Message: errs[0].Tag()}
	}
	return &ErrValidation{Field: "body", Message: "invalid request"}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: name, Message: "must be a UUID"}
	}
	return id, nil
}

// clientID is the remote IP without the port.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) rateLimitResponse(w http.ResponseWriter, d ratelimit.Decision) {
	response := map[string]any{
		"error":   "rate_limit_exceeded",
		"message": "Rate limit exceeded. Please try again later.",
		"limit":   d.Limit,
	}
	if d.RetryAfter > 0 {
		seconds := int(d.RetryAfter.Round(time.Second).Seconds())
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	s.log.Warn("rate limit exceeded", "limit", d.Limit, "retry_after", d.RetryAfter)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
