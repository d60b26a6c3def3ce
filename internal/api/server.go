// Package api exposes the daemon over HTTP: batch execution, recording
// control, target listing, and an SSE event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/muster/internal/batch"
	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/record"
	"github.com/mattjoyce/muster/internal/store"
)

// BatchExecutor runs a batch of commands and returns index-aligned results.
type BatchExecutor interface {
	Execute(ctx context.Context, commands []batch.Command) ([]batch.Result, error)
}

// Recorder is the recording registry surface the API needs.
type Recorder interface {
	Start(ctx context.Context, target, name string) (*record.HandleRef, error)
	Stop(ctx context.Context, target string) ([]record.Artifact, error)
	Status(target string) (record.Status, bool)
	Snapshot() []record.Status
	Active() int
}

// TargetLister enumerates connected targets.
type TargetLister interface {
	ListTargets(ctx context.Context) ([]string, error)
}

// History is the persistence surface the API reads and appends to.
type History interface {
	ListSegments(ctx context.Context, target string) ([]record.Artifact, error)
	LogBatch(ctx context.Context, b store.BatchSummary) (string, error)
	RecentBatches(ctx context.Context, limit int) ([]store.BatchSummary, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Key is the single bearer token; empty leaves the API open.
	Key string
	// PoolWorkers is reported on /healthz; zero omits it.
	PoolWorkers int
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	executor  BatchExecutor
	recorder  Recorder
	targets   TargetLister
	history   History
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server. history may be nil when persistence is disabled.
func New(config Config, executor BatchExecutor, recorder Recorder, targets TargetLister, history History, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		executor:  executor,
		recorder:  recorder,
		targets:   targets,
		history:   history,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // batches and SSE streams outlive short writes
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/batch", s.handleBatch)
		r.Get("/batches", s.handleRecentBatches)
		r.Post("/record/{target}/start", s.handleRecordStart)
		r.Post("/record/{target}/stop", s.handleRecordStop)
		r.Get("/record", s.handleRecordSnapshot)
		r.Get("/record/{target}", s.handleRecordStatus)
		r.Get("/targets", s.handleTargets)
		r.Get("/segments/{target}", s.handleSegments)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
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
