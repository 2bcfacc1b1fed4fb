// Package server exposes the workflow over HTTP: a server-sent event stream
// and a WebSocket stream of generation output, execution history, the
// rendered graph, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codemother/codemother/pkg/codegen"
	"github.com/codemother/codemother/pkg/config"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/telemetry"
)

// Generator starts a generation and returns its client chunks.
type Generator interface {
	Chat(ctx context.Context, req codegen.Request) (<-chan string, error)
}

// GraphRenderer renders the workflow graph.
type GraphRenderer interface {
	Mermaid() string
	DOT() string
}

// ExecutionStore reads persisted executions.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*stores.Execution, error)
	ListExecutions(ctx context.Context, appID int64, limit, offset int) ([]*stores.Execution, error)
	ListNodeEvents(ctx context.Context, executionID string) ([]*stores.NodeEvent, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options wire the server. Generator is required.
type Options struct {
	Config     config.ServerConfig
	Generator  Generator
	Graph      GraphRenderer
	History    stores.ChatHistory
	Executions ExecutionStore
	Health     HealthChecker
	Telemetry  *telemetry.Telemetry

	// HistoryLimit caps the chat messages returned per request.
	HistoryLimit int
}

// Server is the HTTP surface.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger zerolog.Logger
}

type apiError struct {
	Message string `json:"message"`
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Generator == nil {
		return nil, errors.New("server: generator is required")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNopTelemetry()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}

	s := &Server{
		opts:   opts,
		engine: gin.New(),
		logger: log.With().Str("component", "server").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger(), s.withTelemetry())
	s.engine.Use(cors.New(s.corsConfig()))
	s.routes()
	return s, nil
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.Config.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.Config.AllowedOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(s.opts.Telemetry.Metrics.Handler()))
	s.engine.GET("/ws/gen", s.streamWebSocket)

	api := s.engine.Group("/api/v1")
	{
		api.GET("/app/chat/gen/code", s.streamSSE)
		api.GET("/app/:appId/history", s.history)
		api.GET("/executions", s.listExecutions)
		api.GET("/executions/:id", s.getExecution)
		api.GET("/workflow/graph", s.graph)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx ends, then drains open
// requests.
func (s *Server) Run(ctx context.Context) error {
	router, err := graceful.New(s.engine, graceful.WithAddr(s.opts.Config.Addr))
	if err != nil {
		return err
	}
	defer router.Close()

	s.logger.Info().Str("addr", s.opts.Config.Addr).Msg("server listening")
	if err := router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// withTelemetry puts the telemetry bundle on the request context so that
// runs started by the request are traced and counted.
func (s *Server) withTelemetry() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(s.opts.Telemetry.WithContext(c.Request.Context()))
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
