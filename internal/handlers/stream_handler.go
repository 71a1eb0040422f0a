package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/domains/engine"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// StreamHandler exposes the streaming lifecycle.
type StreamHandler struct {
	coord  *engine.Coordinator
	logger *Logger.Logger
}

func NewStreamHandler(coord *engine.Coordinator, logger *Logger.Logger) *StreamHandler {
	return &StreamHandler{coord: coord, logger: logger}
}

// Start spins up the pipelines. Idempotent.
// POST /stream/start
func (h *StreamHandler) Start(c *gin.Context) {
	st, err := h.coord.StartStreaming()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, st.Streaming)
}

// Stop tears the pipelines down. Idempotent.
// POST /stream/stop
func (h *StreamHandler) Stop(c *gin.Context) {
	st, err := h.coord.StopStreaming()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, st.Streaming)
}

// Status reports the streaming slice of the engine snapshot.
// GET /stream/status
func (h *StreamHandler) Status(c *gin.Context) {
	respondOK(c, h.coord.Status().Streaming)
}
