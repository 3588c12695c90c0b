// Package http wires the wire-facing HTTP surface: a single gin router
// exposing the status page, the health endpoint, and the catch-all proxy
// route that delegates to the admission pipeline.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/portablestew/key-commune/internal/admission"
	"github.com/portablestew/key-commune/internal/hotcache"
	"github.com/portablestew/key-commune/internal/metrics"
)

// Server is the wire-facing HTTP server.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the gin router and binds it to host:port. corsEnabled and
// corsAllowOrigins configure the optional CORS middleware; metricsProvider
// may be nil to skip HTTP metrics instrumentation.
func NewServer(
	host string,
	port int,
	logger *slog.Logger,
	pipeline *admission.Pipeline,
	cache *hotcache.Cache,
	startedAt time.Time,
	corsEnabled bool,
	corsAllowOrigins string,
	metricsProvider *metrics.Provider,
	metricsNamespace string,
) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(logger))

	if cors := createCORSMiddleware(corsEnabled, corsAllowOrigins, logger); cors != nil {
		router.Use(cors)
	}
	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), metricsNamespace))
	}

	router.GET("/", statusHandler(cache, startedAt))
	router.GET("/health", healthHandler(cache, startedAt))
	router.NoRoute(pipeline.Handle)

	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// StartTLS runs the HTTP server with TLS termination until it is shut down.
func (s *Server) StartTLS(certPath, keyPath string) error {
	s.logger.Info("starting https server", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServeTLS(certPath, keyPath); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start tls server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
