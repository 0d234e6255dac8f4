package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/tests/testutil"
)

func sampleLog(requestID string, stream bool) *models.RequestLog {
	return &models.RequestLog{
		RequestID:          requestID,
		Timestamp:          time.Now().UTC().Truncate(time.Second),
		ProfileID:          "p1",
		ProfileName:        "primary",
		Provider:           "Anthropic",
		OriginalModel:      "claude-sonnet-4",
		ModelMode:          "passthrough",
		ForwardedModel:     "claude-sonnet-4",
		InputTokens:        100,
		OutputTokens:       50,
		DurationMs:         120,
		UpstreamDurationMs: 80,
		StatusCode:         200,
		IsStream:           stream,
		RequestSizeBytes:   256,
		ResponseSizeBytes:  512,
		ResponseBody:       `{"id":"msg_1"}`,
	}
}

func TestRequestLogRepository_InsertAndGetByRequestID(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	log := sampleLog("req-1", false)
	require.NoError(t, repo.Insert(ctx, log))

	got, err := repo.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "primary", got.ProfileName)
	assert.Equal(t, "Anthropic", got.Provider)
	assert.Equal(t, "passthrough", got.ModelMode)
	assert.Equal(t, int64(80), got.UpstreamDurationMs)
	assert.Equal(t, 256, got.RequestSizeBytes)
	assert.Equal(t, 512, got.ResponseSizeBytes)
	assert.Equal(t, `{"id":"msg_1"}`, got.ResponseBody)
}

func TestRequestLogRepository_UpdateStreamTotals_PreservesTimestamp(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	log := sampleLog("req-stream", true)
	log.InputTokens, log.OutputTokens = 0, 0
	require.NoError(t, repo.Insert(ctx, log))

	original, err := repo.GetByRequestID(ctx, "req-stream")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStreamTotals(ctx, "req-stream", 30, 40, 0, 0, 999, true))

	updated, err := repo.GetByRequestID(ctx, "req-stream")
	require.NoError(t, err)
	assert.Equal(t, 30, updated.InputTokens)
	assert.Equal(t, 40, updated.OutputTokens)
	assert.True(t, updated.TokensEstimated)
	assert.WithinDuration(t, original.Timestamp, updated.Timestamp, time.Second)
}

func TestRequestLogRepository_UpdateStreamTotals_NotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	err := repo.UpdateStreamTotals(context.Background(), "missing", 1, 1, 0, 0, 1, false)
	assert.Error(t, err)
}

func TestRequestLogRepository_ListLogs_FilterByProfile(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	a := sampleLog("req-a", false)
	a.ProfileID = "p1"
	b := sampleLog("req-b", false)
	b.ProfileID = "p2"
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))

	logs, total, err := repo.ListLogs(ctx, models.LogFilter{ProfileID: "p1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	assert.Equal(t, "req-a", logs[0].RequestID)
}

func TestRequestLogRepository_ListLogs_ResolvesFreshProfileName(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	profileRepo := NewProfileRepositoryImpl(db)
	ctx := context.Background()

	profile := &models.Profile{ID: "p1", Name: "original name", APIBaseURL: "https://api.anthropic.com", ModelMappingMode: models.MappingPassthrough}
	require.NoError(t, profileRepo.Insert(ctx, profile))

	log := sampleLog("req-rename", false)
	log.ProfileID, log.ProfileName = "p1", "original name"
	require.NoError(t, repo.Insert(ctx, log))

	profile.Name = "renamed"
	require.NoError(t, profileRepo.Update(ctx, profile))

	logs, _, err := repo.ListLogs(ctx, models.LogFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "renamed", logs[0].ProfileName, "ListLogs must resolve the live profile name, not the one frozen at insert time")
}

func TestRequestLogRepository_ListLogs_SubstitutesPlaceholderForDeletedProfile(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	log := sampleLog("req-orphan", false)
	log.ProfileID, log.ProfileName = "gone", "long deleted"
	require.NoError(t, repo.Insert(ctx, log))

	logs, _, err := repo.ListLogs(ctx, models.LogFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "deleted profile (gone)", logs[0].ProfileName)
}

func TestRequestLogRepository_DashboardStats(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, sampleLog("req-1", false)))
	require.NoError(t, repo.Insert(ctx, sampleLog("req-2", false)))

	stats, err := repo.DashboardStats(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TodayRequests)
	assert.Equal(t, int64(300), stats.TotalTokens) // (100+50) * 2
}

func TestRequestLogRepository_TokenStats_BucketCounts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	now := time.Now()

	hourPoints, err := repo.TokenStats(context.Background(), models.RangeHour, now)
	require.NoError(t, err)
	assert.Len(t, hourPoints, 13)

	dayPoints, err := repo.TokenStats(context.Background(), models.RangeDay, now)
	require.NoError(t, err)
	assert.Len(t, dayPoints, 7)

	weekPoints, err := repo.TokenStats(context.Background(), models.RangeWeek, now)
	require.NoError(t, err)
	assert.Len(t, weekPoints, 4)
	assert.Equal(t, "第1周", weekPoints[0].Label)
	assert.Equal(t, "第4周", weekPoints[3].Label)

	monthPoints, err := repo.TokenStats(context.Background(), models.RangeMonth, now)
	require.NoError(t, err)
	assert.Len(t, monthPoints, 12)
	assert.Equal(t, "1月", monthPoints[0].Label)
	assert.Equal(t, "12月", monthPoints[11].Label)
}

func TestRequestLogRepository_ProfileRanking_PercentagesSumTo100(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	a := sampleLog("req-a", false)
	a.ProfileID, a.ProfileName = "p1", "alpha"
	a.InputTokens, a.OutputTokens = 300, 0
	b := sampleLog("req-b", false)
	b.ProfileID, b.ProfileName = "p2", "beta"
	b.InputTokens, b.OutputTokens = 100, 0
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))

	ranking, err := repo.ProfileRanking(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, ranking, 2)

	var sum float64
	for _, r := range ranking {
		sum += r.Percentage
	}
	assert.InDelta(t, 100.0, sum, 0.1)
	assert.Equal(t, "alpha", ranking[0].ProfileName)
	assert.InDelta(t, 75.0, ranking[0].Percentage, 0.1)
}

func TestRequestLogRepository_ProfileRanking_GroupsByProfileIDDespiteRename(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	before := sampleLog("req-before-rename", false)
	before.ProfileID, before.ProfileName = "p1", "old name"
	before.InputTokens, before.OutputTokens = 100, 0
	after := sampleLog("req-after-rename", false)
	after.ProfileID, after.ProfileName = "p1", "new name"
	after.InputTokens, after.OutputTokens = 50, 0
	require.NoError(t, repo.Insert(ctx, before))
	require.NoError(t, repo.Insert(ctx, after))

	ranking, err := repo.ProfileRanking(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, ranking, 1, "a profile renamed mid-window must still collapse to a single leaderboard row")
	assert.Equal(t, "p1", ranking[0].ProfileID)
	assert.Equal(t, "new name", ranking[0].ProfileName, "the displayed name should be the most recent log row's name")
	assert.Equal(t, int64(150), ranking[0].TotalTokens)
}

func TestRequestLogRepository_ProfileRanking_ClampsLimit(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		log := sampleLog(fmt.Sprintf("req-%d", i), false)
		log.ProfileID, log.ProfileName = fmt.Sprintf("p%d", i), fmt.Sprintf("profile %d", i)
		require.NoError(t, repo.Insert(ctx, log))
	}

	ranking, err := repo.ProfileRanking(ctx, time.Now().Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, ranking, 1)

	ranking, err = repo.ProfileRanking(ctx, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, ranking, 3, "limit<=0 should fall back to the default of 10, not zero rows")
}

func TestRequestLogRepository_Deduplicate_NoDuplicatesIsNoOp(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, sampleLog("solo", false)))

	n, err := repo.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "request_id's unique index already prevents duplicate rows")

	_, total, err := repo.ListLogs(ctx, models.LogFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestRequestLogRepository_CleanupOlderThan(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewRequestLogRepositoryImpl(db, nil, nil)
	ctx := context.Background()

	old := sampleLog("old", false)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.Insert(ctx, old))
	require.NoError(t, repo.Insert(ctx, sampleLog("new", false)))

	n, err := repo.CleanupOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, total, err := repo.ListLogs(ctx, models.LogFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
