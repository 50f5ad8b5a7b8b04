package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"flowcraft/backend/pkg/response"
)

func (h *Handlers) HealthCheck(c *gin.Context) {
	status, err := h.Recorder.Status(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	response.Success(c, gin.H{
		"status":    "ok",
		"recording": status,
		"playing":   h.Player.Status().IsPlaying,
	})
}

// WebSocket hands the connection to the broadcast hub.
func (h *Handlers) WebSocket(c *gin.Context) {
	if h.Hub == nil {
		response.NotFound(c, "websocket hub not configured")
		return
	}
	h.Hub.ServeHTTP(c.Writer, c.Request)
}

func (h *Handlers) ServeMetrics(c *gin.Context) {
	if h.Metrics == nil {
		response.NotFound(c, "metrics not enabled")
		return
	}
	h.Metrics.ServeHTTP(c.Writer, c.Request)
}
