// Package server owns the HTTP process lifecycle: listen, then drain and
// stop on SIGINT/SIGTERM or context cancellation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/graphflow/common/logger"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Server runs one HTTP listener with graceful shutdown.
type Server struct {
	name string
	http *http.Server
	log  *logger.Logger
}

// New wraps the handler in a server listening on the given port.
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		name: name,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		log: log,
	}
}

// Start serves until an interrupt signal arrives, then drains in-flight
// requests before returning.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "service", s.name, "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		s.log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error("drain incomplete, closing", "error", err)
		return s.http.Close()
	}
	s.log.Info("shutdown complete")
	return nil
}
