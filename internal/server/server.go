package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/testgate/testgate/internal/config"
	"github.com/testgate/testgate/internal/engine"
	"github.com/testgate/testgate/internal/provider"
	"github.com/testgate/testgate/internal/store"
)

// Server represents the HTTP API server.
type Server struct {
	engine     *engine.Engine
	registry   *provider.Registry
	store      *store.Store
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	version    string
}

// NewServer creates a new Server instance.
func NewServer(
	eng *engine.Engine,
	reg *provider.Registry,
	st *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   eng,
		registry: reg,
		store:    st,
		config:   cfg,
		logger:   logger,
		version:  "dev",
	}
}

// SetVersion sets the version string reported by the status endpoint.
func (s *Server) SetVersion(v string) {
	s.version = v
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	handler := s.withMiddleware(s.setupRoutes())

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Test run routes
	mux.HandleFunc("POST /api/v1/testrun", s.handleStartTestRun)
	mux.HandleFunc("GET /api/v1/testrun/{id}", s.handleGetTestRun)
	mux.HandleFunc("DELETE /api/v1/testrun/{id}", s.handleAbortTestRun)

	// Suite validation route
	mux.HandleFunc("POST /api/v1/validate", s.handleValidate)

	// Provider routes
	mux.HandleFunc("GET /api/v1/providers", s.handleListProviders)
	mux.HandleFunc("POST /api/v1/providers", s.handleRegisterProvider)
	mux.HandleFunc("GET /api/v1/providers/{type}/{name}", s.handleGetProvider)
	mux.HandleFunc("DELETE /api/v1/providers/{type}/{name}", s.handleDeleteProvider)

	// Status routes
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /selftest/ping", s.handlePing)
	mux.HandleFunc("HEAD /selftest/ping", s.handlePingHead)

	return mux
}
