package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-oss/tarsy/pkg/audit"
	"github.com/tarsy-oss/tarsy/pkg/models"
	"github.com/tarsy-oss/tarsy/pkg/orchestrator"
)

// handleSubmitAlert accepts an alert submission:
// {alert_type, alert_data, runbook?, alert_id?} → {alert_id, session_id, status}.
func (s *Server) handleSubmitAlert(c *gin.Context) {
	var req orchestrator.SubmitAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.AlertType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alert_type is required"})
		return
	}

	resp, err := s.alerts.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrCapacity) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert processing at capacity, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// handleListSessions serves GET /sessions with filters and pagination,
// sorted by started_at_us descending.
func (s *Server) handleListSessions(c *gin.Context) {
	filters := models.SessionFilters{
		Status:    c.Query("status"),
		AlertType: c.Query("alert_type"),
		ChainID:   c.Query("chain_id"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("size", "20")); err == nil {
		filters.Size = size
	}

	pageResult, err := s.store.ListSessions(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pageResult)
}

// handleGetSession serves GET /sessions/:id with the merged timeline.
func (s *Server) handleGetSession(c *gin.Context) {
	timeline, err := s.store.GetSessionWithTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, timeline)
}

// handleCancelSession triggers cancellation of an in-flight session.
func (s *Server) handleCancelSession(c *gin.Context) {
	sessionID := c.Param("id")
	if s.alerts.CancelSession(sessionID) {
		c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "cancelling"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session is not processing on this instance"})
}

// handleHealth reports audit-store connectivity and registry load state.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats := s.cfg.Stats()
	body := gin.H{
		"status": "healthy",
		"registries": gin.H{
			"agents":        stats.Agents,
			"chains":        stats.Chains,
			"mcp_servers":   stats.MCPServers,
			"llm_providers": stats.LLMProviders,
		},
		"active_sessions": s.alerts.ActiveSessions(),
	}

	if err := s.store.Ping(ctx); err != nil {
		body["status"] = "unhealthy"
		body["database"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["database"] = "ok"
	c.JSON(http.StatusOK, body)
}
