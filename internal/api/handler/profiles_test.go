package handler

import (
	"encoding/json"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"github.com/user/llm-proxy-go/internal/service"
	"github.com/user/llm-proxy-go/tests/testutil"
)

func newProfilesHandler(t *testing.T) *ProfilesHandler {
	db := testutil.NewTestDB(t)
	store := service.NewProfileStore(repository.NewProfileRepositoryImpl(db), testutil.NewTestLogger())
	return NewProfilesHandler(store, testutil.NewTestLogger())
}

func TestProfilesHandler_CreateAndList(t *testing.T) {
	h := newProfilesHandler(t)

	body := map[string]any{
		"name":          "primary",
		"api_base_url":  "https://api.anthropic.com",
		"api_key":       "sk-ant-test",
		"model_mapping_mode": "passthrough",
	}
	c, w := testutil.NewTestContextWithRequest("POST", "/api/profiles", body)
	h.CreateProfile(c)
	require.Equal(t, 201, w.Code)

	var created models.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "primary", created.Name)
	assert.NotEmpty(t, created.ID)

	c2, w2 := testutil.NewTestContext()
	h.ListProfiles(c2)
	assert.Equal(t, 200, w2.Code)

	var list []*models.Profile
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestProfilesHandler_CreateMissingRequiredField(t *testing.T) {
	h := newProfilesHandler(t)
	c, w := testutil.NewTestContextWithRequest("POST", "/api/profiles", map[string]any{"name": "no-url"})
	h.CreateProfile(c)
	assert.Equal(t, 400, w.Code)
}

func TestProfilesHandler_GetProfile_NotFound(t *testing.T) {
	h := newProfilesHandler(t)
	c, w := testutil.NewTestContext()
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.GetProfile(c)
	assert.Equal(t, 404, w.Code)
}

func TestProfilesHandler_ActivateProfile(t *testing.T) {
	h := newProfilesHandler(t)

	c, w := testutil.NewTestContextWithRequest("POST", "/api/profiles", map[string]any{
		"name": "primary", "api_base_url": "https://api.anthropic.com",
	})
	h.CreateProfile(c)
	var created models.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	c2, w2 := testutil.NewTestContext()
	c2.Params = gin.Params{{Key: "id", Value: created.ID}}
	h.ActivateProfile(c2)
	assert.Equal(t, 200, w2.Code)

	c3, w3 := testutil.NewTestContext()
	c3.Params = gin.Params{{Key: "id", Value: created.ID}}
	h.GetProfile(c3)
	var got models.Profile
	require.NoError(t, json.Unmarshal(w3.Body.Bytes(), &got))
	assert.True(t, got.IsActive)
}

func TestProfilesHandler_DeleteProfile(t *testing.T) {
	h := newProfilesHandler(t)

	c, w := testutil.NewTestContextWithRequest("POST", "/api/profiles", map[string]any{
		"name": "gone", "api_base_url": "https://api.anthropic.com",
	})
	h.CreateProfile(c)
	var created models.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	c2, w2 := testutil.NewTestContext()
	c2.Params = gin.Params{{Key: "id", Value: created.ID}}
	h.DeleteProfile(c2)
	assert.Equal(t, 200, w2.Code)

	c3, w3 := testutil.NewTestContext()
	c3.Params = gin.Params{{Key: "id", Value: created.ID}}
	h.GetProfile(c3)
	assert.Equal(t, 404, w3.Code)
}
