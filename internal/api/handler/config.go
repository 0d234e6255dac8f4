package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"github.com/user/llm-proxy-go/internal/service"
	"go.uber.org/zap"
)

// ConfigHandler handles the control-plane's auth, proxy-key, and listen
// address settings.
type ConfigHandler struct {
	authGate  *service.AuthGate
	lifecycle *service.Lifecycle
	cfgRepo   repository.AppConfigRepository
	logger    *zap.Logger
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(authGate *service.AuthGate, lifecycle *service.Lifecycle, cfgRepo repository.AppConfigRepository, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{authGate: authGate, lifecycle: lifecycle, cfgRepo: cfgRepo, logger: logger}
}

// GetProxyKey returns the current proxy API key.
// GET /api/config/proxy-key
func (h *ConfigHandler) GetProxyKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"proxy_api_key": h.authGate.Token()})
}

// RefreshProxyKey rotates the proxy API key.
// POST /api/config/proxy-key/refresh
func (h *ConfigHandler) RefreshProxyKey(c *gin.Context) {
	token, err := h.authGate.RefreshToken(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to refresh proxy key", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to refresh proxy key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxy_api_key": token})
}

// GetAuthConfig reports whether auth enforcement is enabled.
// GET /api/config/auth
func (h *ConfigHandler) GetAuthConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enable_auth": h.authGate.Enabled()})
}

// UpdateAuthConfig toggles auth enforcement.
// PUT /api/config/auth
func (h *ConfigHandler) UpdateAuthConfig(c *gin.Context) {
	var req struct {
		EnableAuth bool `json:"enable_auth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.authGate.SetEnabled(c.Request.Context(), req.EnableAuth); err != nil {
		h.logger.Error("failed to update auth config", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to update auth config")
		return
	}
	c.JSON(http.StatusOK, gin.H{"enable_auth": req.EnableAuth})
}

// GetProxyConfig returns the configured listen address.
// GET /api/config/proxy
func (h *ConfigHandler) GetProxyConfig(c *gin.Context) {
	cfg, err := h.cfgRepo.LoadProxyConfig(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load proxy config", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to load proxy config")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateProxyConfig changes the listen address and restarts the proxy
// listener to take effect immediately.
// PUT /api/config/proxy
func (h *ConfigHandler) UpdateProxyConfig(c *gin.Context) {
	var cfg models.ProxyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errorResponse(c, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}

	if err := h.cfgRepo.SaveProxyConfig(c.Request.Context(), &cfg); err != nil {
		h.logger.Error("failed to save proxy config", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to save proxy config")
		return
	}

	if err := h.lifecycle.Restart(cfg); err != nil {
		h.logger.Error("failed to restart proxy listener", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to apply new listen address: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, cfg)
}
