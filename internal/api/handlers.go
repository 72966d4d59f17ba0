// Package api implements the REST API endpoints for the Arbiter routing engine.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/service"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	svc *service.Service
	db  *database.DB
}

// NewHandlers creates a new Handlers instance. db may be nil when the
// service runs without persistence.
func NewHandlers(svc *service.Service, db *database.DB) *Handlers {
	return &Handlers{svc: svc, db: db}
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "arbiter",
		"version": "0.1.0",
	})
}

// requireDB returns true if the database is available, or sends a 503 and returns false.
func (h *Handlers) requireDB(c *gin.Context) bool {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return false
	}
	return true
}

// Route accepts an AI request, routes it to the best model, executes it
// and returns the result together with the routing decision.
func (h *Handlers) Route(c *gin.Context) {
	var req models.AIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.svc.RouteRequest(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrNoCandidates):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrRetriesExhausted):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListModels returns every registered model.
func (h *Handlers) ListModels(c *gin.Context) {
	list := h.svc.Models()
	c.JSON(http.StatusOK, gin.H{
		"count": len(list),
		"data":  list,
	})
}

// GetModel returns a single registered model by ID.
func (h *Handlers) GetModel(c *gin.Context) {
	m, ok := h.svc.Model(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// RegisterModel registers a new model in the catalog.
func (h *Handlers) RegisterModel(c *gin.Context) {
	var cfg models.ModelConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.svc.RegisterModel(cfg)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, m)
}

// UnregisterModel removes a model from the catalog.
func (h *Handlers) UnregisterModel(c *gin.Context) {
	id := c.Param("id")
	if !h.svc.UnregisterModel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// GetModelHealth returns the health assessment for a single model.
func (h *Handlers) GetModelHealth(c *gin.Context) {
	health, ok := h.svc.ModelHealth(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	c.JSON(http.StatusOK, health)
}

// GetAllModelHealth returns the health assessment for every model with
// recorded metrics.
func (h *Handlers) GetAllModelHealth(c *gin.Context) {
	list := h.svc.AllModelHealth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"count": len(list),
		"data":  list,
	})
}

// GetStats returns the combined routing statistics.
func (h *Handlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// GetUsageSummary returns per-model usage aggregated from the decision audit log.
// Query params: from, to (RFC3339; default last 30 days).
func (h *Handlers) GetUsageSummary(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}

	fromStr := c.DefaultQuery("from", time.Now().AddDate(0, -1, 0).Format(time.RFC3339))
	toStr := c.DefaultQuery("to", time.Now().Format(time.RFC3339))

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' date format, use RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' date format, use RFC3339"})
		return
	}

	summaries, err := h.db.GetUsageSummary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from": from,
		"to":   to,
		"data": summaries,
	})
}

// GetRecentDecisions returns the most recent routing decisions.
func (h *Handlers) GetRecentDecisions(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}

	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 1000 {
		limit = 50
	}

	decisions, err := h.db.GetRecentDecisions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(decisions),
		"data":  decisions,
	})
}

// UpdateConfig hot-reloads the routing configuration.
func (h *Handlers) UpdateConfig(c *gin.Context) {
	var update service.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.UpdateConfiguration(update); err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
