// Package api exposes the orchestrator over HTTP: a JSON REST surface plus
// a WebSocket endpoint for real-time session events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/council-ai/council/pkg/events"
	"github.com/council-ai/council/pkg/orchestrator"
	"github.com/council-ai/council/pkg/repository"
)

// Server wires the HTTP surface.
type Server struct {
	orch    *orchestrator.Orchestrator
	repo    *repository.Store
	manager *events.ConnectionManager
	httpSrv *http.Server
}

// NewServer builds the router and returns an unstarted server.
func NewServer(addr string, orch *orchestrator.Orchestrator, repo *repository.Store, manager *events.ConnectionManager) *Server {
	s := &Server{
		orch:    orch,
		repo:    repo,
		manager: manager,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/problems", s.handleSubmitProblem)
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.GET("/sessions/:id/messages", s.handleListMessages)
		v1.GET("/sessions/:id/memories", s.handleListMemories)
		v1.POST("/sessions/:id/clarification", s.handleClarification)
		v1.POST("/sessions/:id/resume", s.handleResume)
		v1.POST("/sessions/:id/cancel", s.handleCancel)
		v1.GET("/personas", s.handleListPersonas)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requestLogger logs one line per request in the structured format used
// everywhere else.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
