package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"github.com/user/llm-proxy-go/internal/service"
	"github.com/user/llm-proxy-go/tests/testutil"
)

func newProxyHandler(t *testing.T, upstream string) (*ProxyHandler, *models.Profile) {
	db := testutil.NewTestDB(t)
	logRepo := repository.NewRequestLogRepositoryImpl(db, nil, testutil.NewTestLogger())
	counter, err := service.NewTokenCounter()
	require.NoError(t, err)
	proxyService := service.NewProxyService(logRepo, counter, testutil.NewTestLogger())

	profileRepo := repository.NewProfileRepositoryImpl(db)
	store := service.NewProfileStore(profileRepo, testutil.NewTestLogger())
	profile := &models.Profile{
		ID: "p1", Name: "primary", APIBaseURL: upstream, APIKey: "sk-test",
		ModelMappingMode: models.MappingPassthrough,
	}
	require.NoError(t, store.Create(t.Context(), profile))
	require.NoError(t, store.Activate(t.Context(), profile.ID))

	return NewProxyHandler(proxyService, store, testutil.NewTestLogger()), profile
}

func TestProxyHandler_Messages_ForwardsToActiveProfile(t *testing.T) {
	upstream := testutil.MockUpstreamServer(t, testutil.MockUpstreamResponse(http.StatusOK, testutil.MockAnthropicMessage("claude-sonnet-4")))
	h, _ := newProxyHandler(t, upstream.URL)

	reqBody := map[string]any{"model": "claude-sonnet-4", "max_tokens": 100, "messages": []map[string]any{{"role": "user", "content": "hi"}}}
	c, w := testutil.NewTestContextWithRequest("POST", "/v1/messages", reqBody)

	h.Messages(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Proxy-Request-Id"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "claude-sonnet-4", resp["model"])
}

func TestProxyHandler_Messages_RejectsMissingModel(t *testing.T) {
	upstream := testutil.MockUpstreamServer(t, testutil.MockUpstreamResponse(http.StatusOK, nil))
	h, _ := newProxyHandler(t, upstream.URL)

	c, w := testutil.NewTestContextWithRequest("POST", "/v1/messages", map[string]any{"max_tokens": 100})
	h.Messages(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyHandler_Messages_PropagatesUpstreamError(t *testing.T) {
	upstream := testutil.MockUpstreamServer(t, testutil.MockUpstreamResponse(http.StatusTooManyRequests, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
	}))
	h, _ := newProxyHandler(t, upstream.URL)

	reqBody := map[string]any{"model": "claude-sonnet-4", "messages": []map[string]any{{"role": "user", "content": "hi"}}}
	c, w := testutil.NewTestContextWithRequest("POST", "/v1/messages", reqBody)
	h.Messages(c)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
