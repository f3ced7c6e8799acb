// Package http exposes the governance pipeline over HTTP: action batch
// execution, the override review API, feedback projections, health, and
// Prometheus metrics.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/executor"
	"github.com/yseeku/braind/internal/feedback"
	"github.com/yseeku/braind/internal/override"
)

// Server provides HTTP endpoints for braind.
type Server struct {
	echo    *echo.Echo
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics

	executor  executor.Service
	overrides override.Service
	feedback  feedback.Service
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(exec executor.Service, overrides override.Service, fb feedback.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor service is required")
	}
	if overrides == nil {
		return nil, fmt.Errorf("override service is required")
	}
	if fb == nil {
		return nil, fmt.Errorf("feedback service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	m := NewHTTPMetrics(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(m.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		logger:    logger,
		config:    cfg,
		metrics:   m,
		executor:  exec,
		overrides: overrides,
		feedback:  fb,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1/tenants/:tenant")

	v1.POST("/cycles/:cycle/actions", s.handleExecuteActions)

	v1.GET("/override/queue", s.handleOverrideQueue)
	v1.GET("/override/history", s.handleOverrideHistory)
	v1.GET("/override/stats", s.handleOverrideStats)
	v1.POST("/override", s.handleProcessOverride)
	v1.POST("/override/bulk", s.handleProcessBulkOverrides)

	v1.POST("/feedback/outcomes", s.handleRecordOutcome)
	v1.GET("/feedback/outcomes", s.handleRecentOutcomes)
	v1.GET("/feedback/effectiveness/:type", s.handleEffectiveness)
	v1.POST("/feedback/impact/:action", s.handleMeasureImpact)
	v1.GET("/feedback/recommendations", s.handleRecommendations)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "braind"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
