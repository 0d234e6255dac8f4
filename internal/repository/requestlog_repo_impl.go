package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/user/llm-proxy-go/internal/models"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

// RequestLogRepositoryImpl implements request log data access.
type RequestLogRepositoryImpl struct {
	db     *sql.DB
	roDB   *sql.DB
	logger *zap.Logger
}

// NewRequestLogRepositoryImpl creates a new RequestLogRepositoryImpl. roDB
// may be nil, in which case analytical queries fall back to db.
func NewRequestLogRepositoryImpl(db, roDB *sql.DB, logger *zap.Logger) *RequestLogRepositoryImpl {
	if roDB == nil {
		roDB = db
	}
	return &RequestLogRepositoryImpl{db: db, roDB: roDB, logger: logger}
}

// Insert creates the row for a request as it's dispatched.
func (r *RequestLogRepositoryImpl) Insert(ctx context.Context, log *models.RequestLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_logs (
			request_id, timestamp, profile_id, profile_name, provider,
			original_model, model_mode, forwarded_model,
			input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
			duration_ms, upstream_duration_ms, status_code, error_message, is_stream, tokens_estimated,
			request_size_bytes, response_size_bytes, response_body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RequestID, log.Timestamp.UTC().Format(timeLayout), log.ProfileID, log.ProfileName, log.Provider,
		log.OriginalModel, log.ModelMode, log.ForwardedModel,
		log.InputTokens, log.OutputTokens, log.CacheCreationInputTokens, log.CacheReadInputTokens,
		log.DurationMs, log.UpstreamDurationMs, log.StatusCode, log.ErrorMessage, boolToInt(log.IsStream), boolToInt(log.TokensEstimated),
		log.RequestSizeBytes, log.ResponseSizeBytes, log.ResponseBody,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}
	return nil
}

// UpdateStreamTotals patches token counts and duration without touching
// the row's original timestamp, so a streaming request's position in the
// time series reflects when it started, not when it finished.
func (r *RequestLogRepositoryImpl) UpdateStreamTotals(ctx context.Context, requestID string, inputTokens, outputTokens, cacheCreation, cacheRead int, durationMs int64, estimated bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE request_logs SET
			input_tokens = ?, output_tokens = ?,
			cache_creation_input_tokens = ?, cache_read_input_tokens = ?,
			duration_ms = ?, tokens_estimated = ?
		 WHERE request_id = ?`,
		inputTokens, outputTokens, cacheCreation, cacheRead, durationMs, boolToInt(estimated), requestID)
	if err != nil {
		return fmt.Errorf("failed to update stream totals: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByRequestID retrieves a single request log by its request id.
func (r *RequestLogRepositoryImpl) GetByRequestID(ctx context.Context, requestID string) (*models.RequestLog, error) {
	row := r.roDB.QueryRowContext(ctx, selectLogColumns+" FROM request_logs WHERE request_id = ?", requestID)
	return scanLog(row)
}

// ListLogs retrieves request logs with filtering and pagination. The
// profile name on each row is resolved fresh against the profiles table
// rather than the value frozen in at insert time, so a rename is reflected
// in historical logs; a profile that no longer exists is reported as
// "deleted profile (<id>)".
func (r *RequestLogRepositoryImpl) ListLogs(ctx context.Context, filter models.LogFilter) ([]*models.RequestLog, int64, error) {
	whereSQL, params := buildLogWhere(filter)

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM request_logs WHERE %s`, whereSQL)
	if err := r.roDB.QueryRowContext(ctx, countQuery, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY rl.timestamp DESC LIMIT ? OFFSET ?`, listLogsColumns, whereSQL)
	params = append(params, limit, offset)

	rows, err := r.roDB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.RequestLog, 0)
	for rows.Next() {
		log, err := scanLogRows(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, rows.Err()
}

// CleanupOlderThan deletes logs with a timestamp before cutoff.
func (r *RequestLogRepositoryImpl) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err == nil && n > 0 && r.logger != nil {
		r.logger.Info("cleaned up stale request logs", zap.Int64("count", n))
	}
	return n, err
}

// Deduplicate removes rows sharing a request_id beyond the first,
// keeping the lowest id. Guards against a retried insert racing a
// stream completion update on the same request_id.
func (r *RequestLogRepositoryImpl) Deduplicate(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM request_logs
		WHERE id NOT IN (
			SELECT MIN(id) FROM request_logs GROUP BY request_id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to deduplicate logs: %w", err)
	}
	return result.RowsAffected()
}

// DashboardStats returns today's and all-time request/token totals.
func (r *RequestLogRepositoryImpl) DashboardStats(ctx context.Context, now time.Time) (*models.DashboardStats, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC().Format(timeLayout)

	const tokenSum = "input_tokens + output_tokens + cache_creation_input_tokens + cache_read_input_tokens"
	var stats models.DashboardStats
	err := r.roDB.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN `+tokenSum+` ELSE 0 END), 0),
			COUNT(*),
			COALESCE(SUM(`+tokenSum+`), 0)
		FROM request_logs
	`, dayStart, dayStart).Scan(&stats.TodayRequests, &stats.TodayTokens, &stats.TotalRequests, &stats.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard stats: %w", err)
	}
	return &stats, nil
}

// TokenStats buckets token usage into a time series, most recent bucket
// last, with every bucket present even when no requests landed in it.
func (r *RequestLogRepositoryImpl) TokenStats(ctx context.Context, rng models.TokenStatsRange, now time.Time) ([]models.TokenStatsPoint, error) {
	buckets := bucketBoundaries(rng, now)
	points := make([]models.TokenStatsPoint, len(buckets))

	for i, b := range buckets {
		points[i].Label = b.label
		row := r.roDB.QueryRowContext(ctx, `
			SELECT
				COALESCE(SUM(input_tokens + output_tokens + cache_creation_input_tokens + cache_read_input_tokens), 0),
				COALESCE(SUM(cache_read_input_tokens), 0)
			FROM request_logs WHERE timestamp >= ? AND timestamp < ?
		`, b.start.UTC().Format(timeLayout), b.end.UTC().Format(timeLayout))
		if err := row.Scan(&points[i].Tokens, &points[i].CacheReadTokens); err != nil {
			return nil, fmt.Errorf("failed to get token stats bucket %s: %w", b.label, err)
		}
	}
	return points, nil
}

// ProfileRanking returns per-profile token consumption since the given
// time, ordered by total tokens descending, each carrying its share of
// the total as a percentage. Grouping is by profile_id alone so a
// renamed or deleted profile still collapses to one leaderboard row; the
// displayed name is resolved from that profile_id's most recent log row.
// A limit of 0 or below falls back to 10; a limit above 100 is capped at 100.
func (r *RequestLogRepositoryImpl) ProfileRanking(ctx context.Context, since time.Time, limit int) ([]models.ProfileRankingEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.roDB.QueryContext(ctx, `
		SELECT
			profile_id,
			(SELECT profile_name FROM request_logs WHERE profile_id = rl.profile_id ORDER BY timestamp DESC, id DESC LIMIT 1) AS profile_name,
			COALESCE(SUM(input_tokens + output_tokens + cache_creation_input_tokens + cache_read_input_tokens), 0) as total
		FROM request_logs rl
		WHERE timestamp >= ?
		GROUP BY profile_id
		ORDER BY total DESC
		LIMIT ?
	`, since.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile ranking: %w", err)
	}
	defer rows.Close()

	var entries []models.ProfileRankingEntry
	var grandTotal int64
	for rows.Next() {
		var e models.ProfileRankingEntry
		if err := rows.Scan(&e.ProfileID, &e.ProfileName, &e.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan profile ranking: %w", err)
		}
		grandTotal += e.TotalTokens
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if grandTotal > 0 {
		for i := range entries {
			entries[i].Percentage = roundToPlaces(float64(entries[i].TotalTokens)*100.0/float64(grandTotal), 2)
		}
	}
	return entries, nil
}

type bucket struct {
	label      string
	start, end time.Time
}

// bucketBoundaries lays out the fixed-length window for each range the
// same way the legacy dashboard did: hour is a 13-hour strip centered
// 5 hours behind and 7 ahead of the current hour (a dynamic timeline,
// not a trailing window), day is the trailing 7 calendar days, week is
// the trailing 4 calendar weeks, and month is the 12 buckets of the
// current calendar year approximated as fixed 30-day spans from Jan 1.
func bucketBoundaries(rng models.TokenStatsRange, now time.Time) []bucket {
	switch rng {
	case models.RangeHour:
		return hourlyBuckets(now)
	case models.RangeWeek:
		return weeklyBuckets(now)
	case models.RangeMonth:
		return monthlyBuckets(now)
	default: // RangeDay
		return dailyBuckets(now)
	}
}

func hourlyBuckets(now time.Time) []bucket {
	currentHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	start := currentHour.Add(-5 * time.Hour)
	buckets := make([]bucket, 0, 13)
	for i := 0; i < 13; i++ {
		bStart := start.Add(time.Duration(i) * time.Hour)
		buckets = append(buckets, bucket{label: bStart.Format("15:00"), start: bStart, end: bStart.Add(time.Hour)})
	}
	return buckets
}

func dailyBuckets(now time.Time) []bucket {
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := todayStart.AddDate(0, 0, -6)
	buckets := make([]bucket, 0, 7)
	for i := 0; i < 7; i++ {
		bStart := start.AddDate(0, 0, i)
		buckets = append(buckets, bucket{
			label: fmt.Sprintf("%d月%d日", int(bStart.Month()), bStart.Day()),
			start: bStart, end: bStart.AddDate(0, 0, 1),
		})
	}
	return buckets
}

func weeklyBuckets(now time.Time) []bucket {
	todayEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	start := todayEnd.AddDate(0, 0, -28)
	buckets := make([]bucket, 0, 4)
	for week := 1; week <= 4; week++ {
		bStart := start.AddDate(0, 0, (week-1)*7)
		buckets = append(buckets, bucket{
			label: fmt.Sprintf("第%d周", week),
			start: bStart, end: bStart.AddDate(0, 0, 7),
		})
	}
	return buckets
}

func monthlyBuckets(now time.Time) []bucket {
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	buckets := make([]bucket, 0, 12)
	for month := 1; month <= 12; month++ {
		bStart := yearStart.AddDate(0, 0, (month-1)*30)
		buckets = append(buckets, bucket{
			label: fmt.Sprintf("%d月", month),
			start: bStart, end: bStart.AddDate(0, 0, 30),
		})
	}
	return buckets
}

func buildLogWhere(filter models.LogFilter) (string, []any) {
	conditions := []string{"1=1"}
	var params []any

	if filter.ProfileID != "" {
		conditions = append(conditions, "profile_id = ?")
		params = append(params, filter.ProfileID)
	}
	if filter.Model != "" {
		conditions = append(conditions, "(original_model = ? OR forwarded_model = ?)")
		params = append(params, filter.Model, filter.Model)
	}
	if filter.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, filter.Until.UTC().Format(timeLayout))
	}

	return strings.Join(conditions, " AND "), params
}

const selectLogColumns = `SELECT
	id, request_id, timestamp, profile_id, profile_name, provider,
	original_model, model_mode, forwarded_model,
	input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
	duration_ms, upstream_duration_ms, status_code, error_message, is_stream, tokens_estimated,
	request_size_bytes, response_size_bytes, response_body`

// listLogsColumns mirrors selectLogColumns but resolves profile_name
// against the live profiles table instead of the value frozen into the
// row at insert time.
const listLogsColumns = `SELECT
	rl.id, rl.request_id, rl.timestamp, rl.profile_id,
	COALESCE(p.name, 'deleted profile (' || rl.profile_id || ')') AS profile_name,
	rl.provider, rl.original_model, rl.model_mode, rl.forwarded_model,
	rl.input_tokens, rl.output_tokens, rl.cache_creation_input_tokens, rl.cache_read_input_tokens,
	rl.duration_ms, rl.upstream_duration_ms, rl.status_code, rl.error_message, rl.is_stream, rl.tokens_estimated,
	rl.request_size_bytes, rl.response_size_bytes, rl.response_body
	FROM request_logs rl LEFT JOIN profiles p ON p.id = rl.profile_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row *sql.Row) (*models.RequestLog, error) {
	return scanLogRow(row)
}

func scanLogRows(rows *sql.Rows) (*models.RequestLog, error) {
	return scanLogRow(rows)
}

func scanLogRow(s rowScanner) (*models.RequestLog, error) {
	var log models.RequestLog
	var ts string
	var isStream, estimated int

	err := s.Scan(
		&log.ID, &log.RequestID, &ts, &log.ProfileID, &log.ProfileName, &log.Provider,
		&log.OriginalModel, &log.ModelMode, &log.ForwardedModel,
		&log.InputTokens, &log.OutputTokens, &log.CacheCreationInputTokens, &log.CacheReadInputTokens,
		&log.DurationMs, &log.UpstreamDurationMs, &log.StatusCode, &log.ErrorMessage, &isStream, &estimated,
		&log.RequestSizeBytes, &log.ResponseSizeBytes, &log.ResponseBody,
	)
	if err != nil {
		return nil, err
	}
	log.Timestamp, _ = time.Parse(timeLayout, ts)
	log.IsStream = isStream == 1
	log.TokensEstimated = estimated == 1
	return &log, nil
}
