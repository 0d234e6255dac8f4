// Package repository defines data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/user/llm-proxy-go/internal/models"
)

// ProfileRepository provides access to profile and model-mapping data.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	FindAll(ctx context.Context) ([]*models.Profile, error)
	FindActive(ctx context.Context) (*models.Profile, error)
	Insert(ctx context.Context, p *models.Profile) error
	Update(ctx context.Context, p *models.Profile) error
	Delete(ctx context.Context, id string) error
	// Activate flips is_active off for every profile and on for id, inside
	// one transaction, so the at-most-one-active invariant always holds.
	Activate(ctx context.Context, id string) error
	ReplaceMappings(ctx context.Context, profileID string, rules []models.MappingRule) error
}

// AppConfigRepository provides access to process-wide key/value settings
// and the single proxy listen-address row.
type AppConfigRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	LoadAppConfig(ctx context.Context) (*models.AppConfig, error)
	SaveAppConfig(ctx context.Context, cfg *models.AppConfig) error
	LoadProxyConfig(ctx context.Context) (*models.ProxyConfig, error)
	SaveProxyConfig(ctx context.Context, cfg *models.ProxyConfig) error
	LoadProxyStatus(ctx context.Context) (*models.ProxyStatus, error)
	SaveProxyStatus(ctx context.Context, status *models.ProxyStatus) error
}

// RequestLogRepository provides access to request telemetry.
type RequestLogRepository interface {
	// Insert creates the row for a request as it's dispatched. For a
	// streaming request this happens before usage is known.
	Insert(ctx context.Context, log *models.RequestLog) error
	// UpdateStreamTotals patches token counts and duration on an
	// already-inserted streaming row once the relay finishes, without
	// disturbing its original timestamp.
	UpdateStreamTotals(ctx context.Context, requestID string, inputTokens, outputTokens, cacheCreation, cacheRead int, durationMs int64, estimated bool) error
	GetByRequestID(ctx context.Context, requestID string) (*models.RequestLog, error)
	ListLogs(ctx context.Context, filter models.LogFilter) ([]*models.RequestLog, int64, error)
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Deduplicate removes rows sharing a request_id beyond the first,
	// guarding against a retried insert racing a stream update.
	Deduplicate(ctx context.Context) (int64, error)
	DashboardStats(ctx context.Context, now time.Time) (*models.DashboardStats, error)
	TokenStats(ctx context.Context, rng models.TokenStatsRange, now time.Time) ([]models.TokenStatsPoint, error)
	// ProfileRanking returns the top `limit` (0 or below means 10, capped
	// at 100) profiles by total token consumption since the given time.
	ProfileRanking(ctx context.Context, since time.Time, limit int) ([]models.ProfileRankingEntry, error)
}
