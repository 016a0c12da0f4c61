// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kinship-app/kinship/internal/frameworks/service"
	"github.com/kinship-app/kinship/internal/platform/config"
	"github.com/kinship-app/kinship/internal/platform/deps"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

var ErrMissingSharedDeps = errors.New("shared deps not initialized: call deps.SetDeps() before server.New()")

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	router     http.Handler

	// mountedServices are closed in reverse mount order on shutdown.
	mountedServices []service.Service
}

// New creates a Server that mounts services in the given order.
// Returns ErrMissingSharedDeps if deps.SetDeps has not been called.
func New(cfg *config.Config, logger *slog.Logger, services []service.Service) (*Server, error) {
	logger = logutil.NoopIfNil(logger)

	if deps.GetDeps() == nil {
		return nil, ErrMissingSharedDeps
	}

	s := &Server{cfg: cfg, logger: logger}
	s.router = s.setupRoutes(services)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the root router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address. It blocks until the server is shut down.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l. It blocks until the server is shut down.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting server",
		"addr", l.Addr().String(),
		"public_origin", s.cfg.PublicOrigin,
		"mode", s.cfg.Mode,
	)
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and all mounted services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	httpErr := s.httpServer.Shutdown(ctx)

	errs := []error{httpErr}
	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i]
		if err := svc.Close(); err != nil {
			s.logger.Warn("service close error", "service", svc.Prefix(), "error", err)
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("service closed", "service", svc.Prefix())
	}
	return errors.Join(errs...)
}
