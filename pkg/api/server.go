// Package api provides the broker's HTTP server.
//
// The server exposes the lock protocol (acquire, release, heartbeat,
// status) and health probes over TCP on a loopback address or over a
// Unix domain socket. The socket variant avoids the TCP stack entirely
// and is preferred when broker and proxy share a machine.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/api/handlers"
)

// Server is the broker's HTTP server.
//
// The server is created stopped; Start blocks until the context is
// cancelled or the listener fails. Graceful shutdown drains in-flight
// requests, which includes parked acquire long polls.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new API server over the given lock service.
func NewServer(config APIConfig, svc handlers.LockService) *Server {
	config.applyDefaults()

	router := NewRouter(svc)

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// listen opens the TCP or Unix socket listener.
func (s *Server) listen() (net.Listener, error) {
	if s.config.Socket != "" {
		// A stale socket file from a crashed broker blocks the bind;
		// remove it only if nothing is listening there.
		if _, err := os.Stat(s.config.Socket); err == nil {
			if conn, err := net.DialTimeout("unix", s.config.Socket, time.Second); err == nil {
				_ = conn.Close()
				return nil, fmt.Errorf("socket %q is already in use", s.config.Socket)
			}
			if err := os.Remove(s.config.Socket); err != nil {
				return nil, fmt.Errorf("failed to remove stale socket %q: %w", s.config.Socket, err)
			}
		}
		ln, err := net.Listen("unix", s.config.Socket)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket %q: %w", s.config.Socket, err)
		}
		return ln, nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Start starts the API server and blocks until the context is cancelled
// or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		if s.config.Socket != "" {
			logger.Info("broker API listening", "socket", s.config.Socket)
		} else {
			logger.Info("broker API listening", "host", s.config.Host, "port", s.config.Port)
		}

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("broker API shutdown signal received")
		// Don't use the cancelled ctx; it would abort the drain.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("broker API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("broker API shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("broker API shutdown error: %w", err)
			logger.Error("broker API shutdown error", "error", err)
		} else {
			logger.Info("broker API stopped gracefully")
		}

		if s.config.Socket != "" {
			if err := os.Remove(s.config.Socket); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove socket file", "socket", s.config.Socket, "error", err)
			}
		}
	})
	return shutdownErr
}

// Addr returns the configured listen address, for logging.
func (s *Server) Addr() string {
	if s.config.Socket != "" {
		return "unix:" + s.config.Socket
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
