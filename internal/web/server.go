// Package web exposes the HTTP status surface: service identity, health,
// an orchestration snapshot and a live event stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/logging"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/store"
)

// Config holds the server configuration.
type Config struct {
	Addr            string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration. There is no
// global write timeout: the event stream holds connections open.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		CORSOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server serves the status API over chi.
type Server struct {
	config     Config
	logger     *logging.Logger
	router     chi.Router
	httpServer *http.Server

	version  string
	store    *store.Store
	queue    *queue.Queue
	recorder *events.Recorder
	stream   *streamHandler
}

// Option configures the server.
type Option func(*Server)

// WithVersion sets the version reported by the root endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithStore wires the task store into the status snapshot.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithQueue wires the coordination queue into the status snapshot.
func WithQueue(q *queue.Queue) Option {
	return func(s *Server) { s.queue = q }
}

// WithRecorder wires the recent-events buffer into the status snapshot.
func WithRecorder(r *events.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithBus enables the live event stream endpoint.
func WithBus(bus *events.Bus) Option {
	return func(s *Server) { s.stream = newStreamHandler(bus, 30*time.Second) }
}

// New creates a Server. All data sources are optional: sections backed by
// an absent source are simply omitted from responses.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		if s.stream != nil {
			r.Get("/events", s.stream.ServeHTTP)
		}
	})

	return r
}

// loggingMiddleware logs one line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Shutdown disconnects stream clients, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	if s.stream != nil {
		s.stream.shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
