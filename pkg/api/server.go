// Package api provides the HTTP and WebSocket surface of the scene manager.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/pkg/config"
)

// Server provides the HTTP server for the REST API and the event stream.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// NewServer creates the API HTTP server on top of the runtime.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
func NewServer(cfg *config.Config, rt *Runtime) *Server {
	router := NewRouter(rt)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: bulk transfers and the event stream outlive any
		// sensible fixed bound. The route groups carry their own timeouts.
	}

	return &Server{
		server: server,
		port:   cfg.ListenPort,
	}
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.port)
		logger.Debug("API endpoints available",
			"health", fmt.Sprintf("http://localhost:%d/health", s.port),
			"scenes", fmt.Sprintf("http://localhost:%d/scenes", s.port),
			"events", fmt.Sprintf("ws://localhost:%d/ws", s.port),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Create new context with timeout for graceful shutdown
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
