package handler

import (
	"github.com/codeMaster/reqtrace/internal/hub"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	store   *service.Store
	hub     *hub.Hub
	version string
}

func NewHealthHandler(store *service.Store, h *hub.Hub, version string) *HealthHandler {
	return &HealthHandler{store: store, hub: h, version: version}
}

// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.hub.Stats()
	Success(c, gin.H{
		"status":        "healthy",
		"service":       "reqtrace",
		"version":       h.version,
		"instance":      h.hub.Instance(),
		"project_count": h.store.ProjectCount(),
		"connections":   stats.Connections,
		"subscriptions": stats.Subscriptions,
	})
}
