package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-proxy-go/internal/service"
)

// StatusHandler reports the proxy listener's current lifecycle state.
type StatusHandler struct {
	lifecycle *service.Lifecycle
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(lifecycle *service.Lifecycle) *StatusHandler {
	return &StatusHandler{lifecycle: lifecycle}
}

// GetStatus returns whether the proxy is currently serving and on what
// address.
// GET /api/status
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.lifecycle.Status())
}
