package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/tests/testutil"
)

func TestAppConfigRepository_GetSet_RoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAppConfigRepositoryImpl(db)
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, "missing_key")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Set(ctx, "k", "v1"))
	v, ok, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, repo.Set(ctx, "k", "v2"))
	v, _, err = repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v, "Set must upsert, not duplicate")
}

func TestAppConfigRepository_AppConfig_RoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAppConfigRepositoryImpl(db)
	ctx := context.Background()

	cfg := &models.AppConfig{ProxyAPIKey: "sk-test", EnableAuth: true}
	require.NoError(t, repo.SaveAppConfig(ctx, cfg))

	got, err := repo.LoadAppConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got.ProxyAPIKey)
	assert.True(t, got.EnableAuth)
}

func TestAppConfigRepository_ProxyConfig_RoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAppConfigRepositoryImpl(db)
	ctx := context.Background()

	cfg := &models.ProxyConfig{Host: "127.0.0.1", Port: 9001}
	require.NoError(t, repo.SaveProxyConfig(ctx, cfg))

	got, err := repo.LoadProxyConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", got.Host)
	assert.Equal(t, 9001, got.Port)
}

func TestAppConfigRepository_ProxyStatus_RoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAppConfigRepositoryImpl(db)
	ctx := context.Background()

	status := &models.ProxyStatus{IsRunning: true, Addr: "0.0.0.0:8000", LastError: "boom"}
	require.NoError(t, repo.SaveProxyStatus(ctx, status))

	got, err := repo.LoadProxyStatus(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsRunning)
	assert.Equal(t, "0.0.0.0:8000", got.Addr)
	assert.Equal(t, "boom", got.LastError)
	assert.Nil(t, got.StartedAt)
}
