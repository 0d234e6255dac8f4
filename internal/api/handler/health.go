package handler

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-proxy-go/internal/service"
	"github.com/user/llm-proxy-go/internal/version"
)

// HealthHandler reports whether the database is reachable and a profile
// is configured to serve traffic.
type HealthHandler struct {
	db           *sql.DB
	profileStore *service.ProfileStore
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *sql.DB, profileStore *service.ProfileStore) *HealthHandler {
	return &HealthHandler{db: db, profileStore: profileStore}
}

// Health returns the service health status.
// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	status := "healthy"
	dbOK := h.db.PingContext(c.Request.Context()) == nil
	if !dbOK {
		status = "unhealthy"
	}

	hasActive := h.profileStore.GetActive() != nil
	if dbOK && !hasActive {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"version":        version.Short(),
		"database":       dbOK,
		"active_profile": hasActive,
	})
}
