// Package api provides the HTTP REST surface of the Dora backend.
//
// Endpoints:
//
//	POST   /api/chat                        →  run one conversation turn
//	GET    /api/sessions                    →  list the caller's sessions
//	GET    /api/sessions/{id}               →  one session with messages
//	GET    /health                          →  liveness probe
//	GET    /ready                           →  readiness probe
//	GET    /api/integrations/status         →  connection state per provider
//	GET    /api/integrations/github/connect →  start the OAuth handshake
//	GET    /api/integrations/github/callback→  finish the OAuth handshake
//	DELETE /api/integrations/github         →  disconnect
//	POST   /api/integrations/github/query   →  on-demand GitHub data fetch
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - identity.go: caller identity extraction
//   - health.go: health check endpoints (/health, /ready)
//   - chat.go: chat turn endpoint
//   - session.go: session read endpoints
//   - integration.go: GitHub integration endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dorainsight/dora/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8000"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation can take a while; keep headroom above its timeout.
	WriteTimeout = 90 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the Dora REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	// Handlers
	health      *HealthHandler
	chat        *ChatHandler
	session     *SessionHandler
	integration *IntegrationHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(pinger Pinger, chatSvc ChatService, integSvc IntegrationService, users Users, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:         mux,
		logger:      logger,
		health:      NewHealthHandler(pinger, logger),
		chat:        NewChatHandler(chatSvc, logger),
		session:     NewSessionHandler(chatSvc, logger),
		integration: NewIntegrationHandler(integSvc, users, logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.integration.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
