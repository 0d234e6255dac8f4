package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"go.uber.org/zap"
)

// legacyMappingRule mirrors the original desktop app's config.json shape
// for one model-mapping rule.
type legacyMappingRule struct {
	Pattern  string `json:"pattern"`
	Target   string `json:"target"`
	UseRegex bool   `json:"use_regex"`
}

// legacyProfile mirrors one entry of the original config.json's profiles map.
type legacyProfile struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	APIBaseURL       string              `json:"api_base_url"`
	APIKey           string              `json:"api_key"`
	IsActive         bool                `json:"is_active"`
	ModelMappingMode string              `json:"model_mapping_mode"`
	OverrideModel    string              `json:"override_model"`
	ModelMappings    []legacyMappingRule `json:"model_mappings"`
}

// legacyConfig mirrors the original desktop app's ~/.claude-proxy/config.json.
type legacyConfig struct {
	Profiles    map[string]legacyProfile `json:"profiles"`
	ProxyAPIKey string                   `json:"proxy_api_key"`
	EnableAuth  bool                     `json:"enable_auth"`
}

// importLegacyConfig seeds the SQLite store from the original desktop app's
// JSON config file the first time it finds an empty profile table. The
// JSON file itself is never modified or re-read on subsequent runs: once a
// profile exists here, this is a no-op.
func importLegacyConfig(ctx context.Context, profileRepo repository.ProfileRepository, cfgRepo repository.AppConfigRepository, logger *zap.Logger) error {
	existing, err := profileRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("check existing profiles: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	path := legacyConfigPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read legacy config %s: %w", path, err)
	}

	var legacy legacyConfig
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("parse legacy config %s: %w", path, err)
	}
	if len(legacy.Profiles) == 0 {
		return nil
	}

	for id, lp := range legacy.Profiles {
		profile := &models.Profile{
			ID:               id,
			Name:             lp.Name,
			APIBaseURL:       lp.APIBaseURL,
			APIKey:           lp.APIKey,
			IsActive:         lp.IsActive,
			ModelMappingMode: models.ModelMappingMode(lp.ModelMappingMode),
			OverrideModel:    lp.OverrideModel,
		}
		if profile.ModelMappingMode == "" {
			profile.ModelMappingMode = models.MappingPassthrough
		}
		for i, r := range lp.ModelMappings {
			profile.ModelMappings = append(profile.ModelMappings, models.MappingRule{
				Pattern:  r.Pattern,
				Target:   r.Target,
				UseRegex: r.UseRegex,
				Order:    i,
			})
		}

		if err := profileRepo.Insert(ctx, profile); err != nil {
			logger.Warn("failed to import legacy profile", zap.String("name", lp.Name), zap.Error(err))
			continue
		}
		if len(profile.ModelMappings) > 0 {
			if err := profileRepo.ReplaceMappings(ctx, profile.ID, profile.ModelMappings); err != nil {
				logger.Warn("failed to import legacy model mappings", zap.String("profile_id", profile.ID), zap.Error(err))
			}
		}
		if profile.IsActive {
			if err := profileRepo.Activate(ctx, profile.ID); err != nil {
				logger.Warn("failed to activate imported legacy profile", zap.String("profile_id", profile.ID), zap.Error(err))
			}
		}
	}

	cfg := &models.AppConfig{
		ProxyAPIKey: legacy.ProxyAPIKey,
		EnableAuth:  legacy.EnableAuth,
	}
	if err := cfgRepo.SaveAppConfig(ctx, cfg); err != nil {
		logger.Warn("failed to import legacy app config", zap.Error(err))
	}

	logger.Info("imported legacy configuration", zap.String("path", path), zap.Int("profiles", len(legacy.Profiles)))
	return nil
}

func legacyConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".claude-proxy", "config.json")
}
