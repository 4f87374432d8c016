package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allaspectsdev/keygate/internal/metrics"
	"github.com/allaspectsdev/keygate/internal/tracing"
)

// ServerOptions configures the optional layers around the core routes.
type ServerOptions struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TracingEnabled bool
	AuthToken      string       // empty disables auth
	RateLimiter    *RateLimiter // nil disables rate limiting
	MetricsEnabled bool
}

// Server is the HTTP server for the KeyGate gateway. It binds the chi router
// to the configured address and provides graceful shutdown support.
type Server struct {
	router  chi.Router
	handler *Handler
	addr    string
	httpSrv *http.Server
}

// NewServer creates a new Server with the given Handler and listen address.
func NewServer(handler *Handler, addr string, opts ServerOptions) *Server {
	r := chi.NewRouter()

	// Standard chi middleware.
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// OpenTelemetry trace context extraction/injection.
	if opts.TracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	// Liveness stays reachable without a token.
	r.Get("/health", handler.HandleHealth)
	r.Get("/health/ready", handler.HandleReady)

	r.Group(func(r chi.Router) {
		if opts.AuthToken != "" {
			r.Use(AuthMiddleware(opts.AuthToken))
		}
		r.Post("/v1/chat/completions", handler.HandleComplete)
		r.Get("/v1/pool", handler.HandlePool)
		if opts.MetricsEnabled {
			r.Get("/metrics", metrics.PrometheusHandler(handler.collector, handler.pool.Snapshot))
		}
	})

	srv := &Server{
		router:  r,
		handler: handler,
		addr:    addr,
	}

	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	return srv
}

// Router returns the underlying chi.Router, useful for testing or additional
// route mounting by the caller.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// StartTLS begins listening for HTTPS connections using the given certificate
// and key files. It blocks until the server is shut down or encounters a fatal error.
func (s *Server) StartTLS(certFile, keyFile string) error {
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server (TLS): %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
