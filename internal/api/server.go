package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/askbridge/internal/events"
)

const (
	defaultMaxBodyBytes = 64 * 1024
	defaultWriteTimeout    = 2 * time.Minute
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds API server configuration
type Config struct {
	Listen         string
	MaxBodyBytes   int64
	AllowedOrigins []string
	// WriteTimeout must outlast the worker deadline plus its termination
	// grace, or slow answers are cut off mid-response.
	WriteTimeout time.Duration
	// ShutdownTimeout bounds how long in-flight requests may finish on their
	// own before their workers are terminated.
	ShutdownTimeout time.Duration
}

// Server is the HTTP request gateway.
type Server struct {
	config    Config
	executor  Executor
	recorder  Recorder
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// streams ends open /events connections when shutdown begins.
	streams     context.Context
	stopStreams context.CancelFunc
	// workers is the parent of every worker context; cancelling it
	// terminates in-flight invocations.
	workers       context.Context
	cancelWorkers context.CancelFunc

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New creates a gateway. recorder may be nil when the ledger is disabled.
func New(config Config, executor Executor, recorder Recorder, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    config,
		executor:  executor,
		recorder:  recorder,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.workers, s.cancelWorkers = context.WithCancel(context.Background())
	return s
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down. In-flight asks get
// ShutdownTimeout to finish; workers still running after that are
// terminated and reaped before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.server.RegisterOnShutdown(s.stopStreams)

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down", "event_subscribers", s.events.Subscribers())
		if err := s.shutdown(); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		s.stopWorkers()
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if err == nil {
		s.stopWorkers()
		return nil
	}

	s.logger.Warn("in-flight requests outlived shutdown timeout, terminating workers",
		"timeout", s.config.ShutdownTimeout)
	s.stopWorkers()
	_ = s.server.Close()
	return fmt.Errorf("server shutdown failed: %w", err)
}

// stopWorkers refuses new asks, cancels running workers and waits until
// every Execute call has returned.
func (s *Server) stopWorkers() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	s.cancelWorkers()
	s.inflight.Wait()
}

// workerContext returns the context an ask runs under. It survives the
// client going away but not gateway shutdown. done must be called once
// Execute returns; ok is false when the gateway is draining.
func (s *Server) workerContext(parent context.Context) (ctx context.Context, done func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return nil, nil, false
	}
	s.inflight.Add(1)

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(s.workers, cancel)
	return ctx, func() {
		stop()
		cancel()
		s.inflight.Done()
	}, true
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Last-Event-ID"},
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Post("/ask", s.handleAsk)
	r.Get("/events", s.handleEvents)
	r.Get("/openapi.json", s.handleOpenAPI)

	// Paths used by the bundled chat client.
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/ask", s.handleAsk)
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
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
