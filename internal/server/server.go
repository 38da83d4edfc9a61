// Package server is the reference document backend the offsync HTTP
// transport talks to.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/middleware"
)

// shutdownTimeout время на завершение активных запросов
const shutdownTimeout = 10 * time.Second

// Storage is what the server needs from the document store.
type Storage interface {
	handlers.DocumentStorage
	handlers.Pinger
}

// Server serves the document API.
type Server struct {
	logger  *slog.Logger
	limiter *middleware.RateLimiter
	handler http.Handler
	cfg     config.ServerConfig
}

// New builds the route table. Requests to the document API require a bearer
// token when a JWT secret is configured.
func New(cfg config.ServerConfig, store Storage, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, logger: logger}

	documents := handlers.NewDocumentHandler(logger, store)
	health := handlers.NewHealthHandler(logger, store)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/operations", documents.ApplyOperation)
	api.HandleFunc("GET /api/v1/collections/{collection}/{id}", documents.GetDocument)

	var protected http.Handler = api
	if cfg.JWTSecret != "" {
		protected = middleware.AuthMiddleware(logger, handlers.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			TokenTTL: cfg.TokenTTL,
		})(api)
	} else {
		logger.Warn("JWT secret is not configured, the document API is open")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", health.Health)
	mux.Handle("/api/v1/", protected)

	var handler http.Handler = mux
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, logger)
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.LoggingMiddleware(logger, "/api/v1/health")(handler)
	s.handler = middleware.RecoveryMiddleware(logger)(handler)

	return s
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errC := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
		errC <- srv.Serve(ln)
	}()

	defer func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
	}()

	select {
	case err := <-errC:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := <-errC; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
