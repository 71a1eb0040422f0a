package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/domains/engine"
)

// SystemHandler exposes engine status and process metrics.
type SystemHandler struct {
	coord *engine.Coordinator
}

func NewSystemHandler(coord *engine.Coordinator) *SystemHandler {
	return &SystemHandler{coord: coord}
}

// Health is the liveness probe.
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "state": h.coord.State()})
}

// Metrics returns process CPU/memory and free disk.
// GET /metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	respondOK(c, h.coord.Metrics())
}
