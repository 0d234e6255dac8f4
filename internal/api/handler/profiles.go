package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/service"
	"go.uber.org/zap"
)

// ProfilesHandler handles profile CRUD and activation endpoints.
type ProfilesHandler struct {
	store  *service.ProfileStore
	logger *zap.Logger
}

// NewProfilesHandler creates a new ProfilesHandler.
func NewProfilesHandler(store *service.ProfileStore, logger *zap.Logger) *ProfilesHandler {
	return &ProfilesHandler{store: store, logger: logger}
}

// ListProfiles lists every configured profile.
// GET /api/profiles
func (h *ProfilesHandler) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

// GetProfile retrieves a profile by id.
// GET /api/profiles/:id
func (h *ProfilesHandler) GetProfile(c *gin.Context) {
	p := h.store.Get(c.Param("id"))
	if p == nil {
		errorResponse(c, http.StatusNotFound, "profile not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

type profileRequest struct {
	Name             string                  `json:"name" binding:"required"`
	APIBaseURL       string                  `json:"api_base_url" binding:"required"`
	APIKey           string                  `json:"api_key"`
	ModelMappingMode models.ModelMappingMode `json:"model_mapping_mode"`
	OverrideModel    string                  `json:"override_model"`
	ModelMappings    []models.MappingRule    `json:"model_mappings"`
}

// CreateProfile creates a new profile.
// POST /api/profiles
func (h *ProfilesHandler) CreateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	mode := req.ModelMappingMode
	if mode == "" {
		mode = models.MappingPassthrough
	}

	now := time.Now().UTC()
	p := &models.Profile{
		ID:               uuid.New().String(),
		Name:             req.Name,
		APIBaseURL:       req.APIBaseURL,
		APIKey:           req.APIKey,
		ModelMappingMode: mode,
		OverrideModel:    req.OverrideModel,
		ModelMappings:    req.ModelMappings,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("failed to create profile", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to create profile")
		return
	}
	c.JSON(http.StatusCreated, p)
}

// UpdateProfile updates an existing profile.
// PUT /api/profiles/:id
func (h *ProfilesHandler) UpdateProfile(c *gin.Context) {
	id := c.Param("id")
	existing := h.store.Get(id)
	if existing == nil {
		errorResponse(c, http.StatusNotFound, "profile not found")
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	mode := req.ModelMappingMode
	if mode == "" {
		mode = models.MappingPassthrough
	}

	existing.Name = req.Name
	existing.APIBaseURL = req.APIBaseURL
	if req.APIKey != "" {
		existing.APIKey = req.APIKey
	}
	existing.ModelMappingMode = mode
	existing.OverrideModel = req.OverrideModel
	existing.ModelMappings = req.ModelMappings
	existing.UpdatedAt = time.Now().UTC()

	if err := h.store.Update(c.Request.Context(), existing); err != nil {
		h.logger.Error("failed to update profile", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, existing)
}

// DeleteProfile removes a profile.
// DELETE /api/profiles/:id
func (h *ProfilesHandler) DeleteProfile(c *gin.Context) {
	id := c.Param("id")
	if h.store.Get(id) == nil {
		errorResponse(c, http.StatusNotFound, "profile not found")
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to delete profile", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to delete profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile deleted"})
}

// ActivateProfile marks a profile as the sole active one.
// POST /api/profiles/:id/activate
func (h *ProfilesHandler) ActivateProfile(c *gin.Context) {
	id := c.Param("id")
	if h.store.Get(id) == nil {
		errorResponse(c, http.StatusNotFound, "profile not found")
		return
	}
	if err := h.store.Activate(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to activate profile", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to activate profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile activated"})
}
