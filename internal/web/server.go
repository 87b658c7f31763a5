// Package web serves the monitoring and control API: sync status, progress,
// and manual trigger endpoints, plus Prometheus metrics.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/sync"
)

// DefaultAddr is the default server address.
const DefaultAddr = "127.0.0.1:8090"

// SyncService exposes the orchestrator operations the API serves.
type SyncService interface {
	Progress(ctx context.Context) (*sync.Progress, error)
	Reset(ctx context.Context) error
}

// TriggerService starts a sync run without blocking, refusing while one is
// in flight.
type TriggerService interface {
	TriggerAsync(ctx context.Context) error
}

// BackfillService runs a catalog-ID backfill pass.
type BackfillService interface {
	Run(ctx context.Context) (*sync.BackfillResult, error)
}

// StatsProvider supplies the library counts shown on the status endpoint.
type StatsProvider interface {
	Counts(ctx context.Context) (*LibraryCounts, error)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr string
}

// Server is the HTTP server for the monitoring API.
type Server struct {
	router chi.Router
	server *http.Server
	log    zerolog.Logger

	sync     SyncService
	trigger  TriggerService
	backfill BackfillService
	stats    StatsProvider

	backfillGate stdsync.Mutex
}

// NewServer creates the API server around the sync components.
func NewServer(cfg ServerConfig, syncSvc SyncService, trigger TriggerService, backfill BackfillService, stats StatsProvider, log zerolog.Logger) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		log:      log.With().Str("component", "web").Logger(),
		sync:     syncSvc,
		trigger:  trigger,
		backfill: backfill,
		stats:    stats,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/sync", func(r chi.Router) {
			r.Get("/progress", s.handleProgress)
			r.Post("/trigger", s.handleTrigger)
			r.Post("/backfill", s.handleBackfill)
			r.Post("/reset", s.handleReset)
		})
	})
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info().Msg("server stopped")
	return nil
}
