// Package api wires the gin engine: global middleware, the proxy ingress
// route, and the control-plane REST surface.
package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-proxy-go/internal/api/handler"
	"github.com/user/llm-proxy-go/internal/api/middleware"
	"github.com/user/llm-proxy-go/internal/repository"
	"github.com/user/llm-proxy-go/internal/service"
	"go.uber.org/zap"
)

// Server wraps the configured gin engine.
type Server struct {
	Router *gin.Engine
	logger *zap.Logger
}

// ServeHTTP implements http.Handler by delegating to the gin engine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// ServerDeps holds every dependency the route table needs.
type ServerDeps struct {
	ProxyService *service.ProxyService
	ProfileStore *service.ProfileStore
	AuthGate     *service.AuthGate
	Lifecycle    *service.Lifecycle
	LogRepo      repository.RequestLogRepository
	CfgRepo      repository.AppConfigRepository
	RateLimit    *middleware.RateLimitConfig
	DB           *sql.DB
	Logger       *zap.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(deps.RateLimit))

	proxyHandler := handler.NewProxyHandler(deps.ProxyService, deps.ProfileStore, logger)
	profilesHandler := handler.NewProfilesHandler(deps.ProfileStore, logger)
	configHandler := handler.NewConfigHandler(deps.AuthGate, deps.Lifecycle, deps.CfgRepo, logger)
	statusHandler := handler.NewStatusHandler(deps.Lifecycle)
	logsHandler := handler.NewLogsHandler(deps.LogRepo, logger)
	healthHandler := handler.NewHealthHandler(deps.DB, deps.ProfileStore)

	r.GET("/healthz", healthHandler.Health)

	r.POST("/v1/messages", middleware.RequireProxyAuth(deps.AuthGate), proxyHandler.Messages)

	apiGroup := r.Group("/api")
	{
		profiles := apiGroup.Group("/profiles")
		profiles.GET("", profilesHandler.ListProfiles)
		profiles.POST("", profilesHandler.CreateProfile)
		profiles.GET("/:id", profilesHandler.GetProfile)
		profiles.PUT("/:id", profilesHandler.UpdateProfile)
		profiles.DELETE("/:id", profilesHandler.DeleteProfile)
		profiles.POST("/:id/activate", profilesHandler.ActivateProfile)

		cfg := apiGroup.Group("/config")
		cfg.GET("/proxy-key", configHandler.GetProxyKey)
		cfg.POST("/proxy-key/refresh", configHandler.RefreshProxyKey)
		cfg.GET("/auth", configHandler.GetAuthConfig)
		cfg.PUT("/auth", configHandler.UpdateAuthConfig)
		cfg.GET("/proxy", configHandler.GetProxyConfig)
		cfg.PUT("/proxy", configHandler.UpdateProxyConfig)

		apiGroup.GET("/status", statusHandler.GetStatus)
		apiGroup.GET("/logs", logsHandler.GetLogs)

		stats := apiGroup.Group("/stats")
		stats.GET("/dashboard", logsHandler.GetDashboardStats)
		stats.GET("/tokens", logsHandler.GetTokenStats)
		stats.GET("/ranking", logsHandler.GetProfileRanking)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	})

	return &Server{Router: r, logger: logger}
}
