// Package server exposes the training API over HTTP. Observers follow a run
// either by long-polling the events endpoint or through the SSE stream; both
// read from the notify hub so they never touch the worker's write path.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"foundry/internal/config"
	"foundry/internal/coordinator"
	"foundry/internal/logging"
	"foundry/internal/notify"
)

// WorkerStatus reports pool activity for the health endpoint.
type WorkerStatus interface {
	Running() int
}

// Server hosts the HTTP API.
type Server struct {
	bind   string
	coord  *coordinator.Coordinator
	hub    *notify.Hub
	pool   WorkerStatus
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New constructs the API server.
func New(cfg *config.Config, coord *coordinator.Coordinator, hub *notify.Hub, pool WorkerStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		coord:  coord,
		hub:    hub,
		pool:   pool,
		logger: logging.NewComponentLogger(logger, "api"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/training", s.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/api/training", s.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/training/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/api/training/{id}", s.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/api/training/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	router.HandleFunc("/api/training/{id}/events", s.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/api/training/{id}/stream", s.handleStream).Methods(http.MethodGet)
	router.HandleFunc("/api/training/{id}/history", s.handleHistory).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}
