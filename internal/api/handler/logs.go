package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"go.uber.org/zap"
)

const (
	logQueryTimeout = 10 * time.Second
	maxLogLimit     = 500
	defaultLogLimit = 100
)

// LogsHandler serves request telemetry: the raw log list and the
// aggregate dashboard/token/ranking views derived from it.
type LogsHandler struct {
	logRepo repository.RequestLogRepository
	logger  *zap.Logger
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(logRepo repository.RequestLogRepository, logger *zap.Logger) *LogsHandler {
	return &LogsHandler{logRepo: logRepo, logger: logger}
}

// GetLogs retrieves request logs.
// GET /api/logs?limit=100&offset=0&profile_id=...&model=...&since=...&until=...
func (h *LogsHandler) GetLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLogLimit)))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	filter := models.LogFilter{
		ProfileID: c.Query("profile_id"),
		Model:     c.Query("model"),
		Limit:     limit,
		Offset:    offset,
	}
	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}
	if until := c.Query("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = &t
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), logQueryTimeout)
	defer cancel()

	logs, total, err := h.logRepo.ListLogs(ctx, filter)
	if err != nil {
		h.logger.Error("failed to retrieve logs", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to retrieve logs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetDashboardStats returns the control surface's summary counters.
// GET /api/stats/dashboard
func (h *LogsHandler) GetDashboardStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), logQueryTimeout)
	defer cancel()

	stats, err := h.logRepo.DashboardStats(ctx, time.Now().UTC())
	if err != nil {
		h.logger.Error("failed to compute dashboard stats", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to compute dashboard stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetTokenStats returns a bucketed token-usage time series.
// GET /api/stats/tokens?range=day
func (h *LogsHandler) GetTokenStats(c *gin.Context) {
	rng := models.TokenStatsRange(c.DefaultQuery("range", string(models.RangeDay)))
	switch rng {
	case models.RangeHour, models.RangeDay, models.RangeWeek, models.RangeMonth:
	default:
		errorResponse(c, http.StatusBadRequest, "range must be one of hour, day, week, month")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), logQueryTimeout)
	defer cancel()

	points, err := h.logRepo.TokenStats(ctx, rng, time.Now().UTC())
	if err != nil {
		h.logger.Error("failed to compute token stats", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to compute token stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"range": rng, "points": points})
}

// GetProfileRanking returns profiles ranked by token consumption over the
// trailing window.
// GET /api/stats/ranking?days=30&limit=10
func (h *LogsHandler) GetProfileRanking(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), logQueryTimeout)
	defer cancel()

	ranking, err := h.logRepo.ProfileRanking(ctx, since, limit)
	if err != nil {
		h.logger.Error("failed to compute profile ranking", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to compute profile ranking")
		return
	}
	c.JSON(http.StatusOK, ranking)
}
