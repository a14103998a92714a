// Package api provides the HTTP edge: alert submission, session queries,
// health, metrics, and the WebSocket progress stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-oss/tarsy/pkg/audit"
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/metrics"
	"github.com/tarsy-oss/tarsy/pkg/orchestrator"
)

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	store   audit.Store
	alerts  *orchestrator.AlertService
	hub     *ProgressHub
	metrics *metrics.Collector

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and registers all routes.
// hub and collector may be nil (stream/metrics disabled).
func NewServer(cfg *config.Config, store audit.Store, alerts *orchestrator.AlertService, hub *ProgressHub, collector *metrics.Collector) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware(cfg.Defaults.CORSOrigins))

	s := &Server{
		cfg:     cfg,
		store:   store,
		alerts:  alerts,
		hub:     hub,
		metrics: collector,
		engine:  engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1")
	v1.POST("/alerts", s.handleSubmitAlert)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/cancel", s.handleCancelSession)
	if s.hub != nil {
		v1.GET("/ws", gin.WrapF(s.hub.Handle))
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves HTTP on addr (blocking).
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// corsMiddleware applies the configured allowed origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
