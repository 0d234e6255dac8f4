package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/user/llm-proxy-go/internal/models"
)

const (
	keyProxyAPIKey   = "proxy_api_key"
	keyEnableAuth    = "enable_auth"
	keyProxyHost     = "proxy_host"
	keyProxyPort     = "proxy_port"
	keyStatusRunning = "proxy_status_running"
	keyStatusAddr    = "proxy_status_addr"
	keyStatusStarted = "proxy_status_started_at"
	keyStatusError   = "proxy_status_last_error"
)

// AppConfigRepositoryImpl implements AppConfigRepository as a flat
// key/value table, mirroring the teacher's single-row config tables but
// generalized to arbitrary keys.
type AppConfigRepositoryImpl struct {
	db *sql.DB
}

// NewAppConfigRepositoryImpl creates a new AppConfigRepositoryImpl.
func NewAppConfigRepositoryImpl(db *sql.DB) *AppConfigRepositoryImpl {
	return &AppConfigRepositoryImpl{db: db}
}

func (r *AppConfigRepositoryImpl) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read app config key %s: %w", key, err)
	}
	return value, true, nil
}

func (r *AppConfigRepositoryImpl) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write app config key %s: %w", key, err)
	}
	return nil
}

func (r *AppConfigRepositoryImpl) LoadAppConfig(ctx context.Context) (*models.AppConfig, error) {
	cfg := &models.AppConfig{}
	if v, ok, err := r.Get(ctx, keyProxyAPIKey); err != nil {
		return nil, err
	} else if ok {
		cfg.ProxyAPIKey = v
	}
	if v, ok, err := r.Get(ctx, keyEnableAuth); err != nil {
		return nil, err
	} else if ok {
		cfg.EnableAuth = v == "1"
	}
	return cfg, nil
}

func (r *AppConfigRepositoryImpl) SaveAppConfig(ctx context.Context, cfg *models.AppConfig) error {
	if err := r.Set(ctx, keyProxyAPIKey, cfg.ProxyAPIKey); err != nil {
		return err
	}
	enable := "0"
	if cfg.EnableAuth {
		enable = "1"
	}
	return r.Set(ctx, keyEnableAuth, enable)
}

func (r *AppConfigRepositoryImpl) LoadProxyConfig(ctx context.Context) (*models.ProxyConfig, error) {
	cfg := &models.ProxyConfig{}
	if v, ok, err := r.Get(ctx, keyProxyHost); err != nil {
		return nil, err
	} else if ok {
		cfg.Host = v
	}
	if v, ok, err := r.Get(ctx, keyProxyPort); err != nil {
		return nil, err
	} else if ok {
		port, err := strconv.Atoi(v)
		if err == nil {
			cfg.Port = port
		}
	}
	return cfg, nil
}

func (r *AppConfigRepositoryImpl) SaveProxyConfig(ctx context.Context, cfg *models.ProxyConfig) error {
	if err := r.Set(ctx, keyProxyHost, cfg.Host); err != nil {
		return err
	}
	return r.Set(ctx, keyProxyPort, strconv.Itoa(cfg.Port))
}

func (r *AppConfigRepositoryImpl) LoadProxyStatus(ctx context.Context) (*models.ProxyStatus, error) {
	status := &models.ProxyStatus{}
	if v, ok, err := r.Get(ctx, keyStatusRunning); err != nil {
		return nil, err
	} else if ok {
		status.IsRunning = v == "1"
	}
	if v, ok, err := r.Get(ctx, keyStatusAddr); err != nil {
		return nil, err
	} else if ok {
		status.Addr = v
	}
	if v, ok, err := r.Get(ctx, keyStatusStarted); err != nil {
		return nil, err
	} else if ok && v != "" {
		if t, err := time.Parse(timeLayout, v); err == nil {
			status.StartedAt = &t
		}
	}
	if v, ok, err := r.Get(ctx, keyStatusError); err != nil {
		return nil, err
	} else if ok {
		status.LastError = v
	}
	return status, nil
}

func (r *AppConfigRepositoryImpl) SaveProxyStatus(ctx context.Context, status *models.ProxyStatus) error {
	running := "0"
	if status.IsRunning {
		running = "1"
	}
	if err := r.Set(ctx, keyStatusRunning, running); err != nil {
		return err
	}
	if err := r.Set(ctx, keyStatusAddr, status.Addr); err != nil {
		return err
	}
	started := ""
	if status.StartedAt != nil {
		started = status.StartedAt.UTC().Format(timeLayout)
	}
	if err := r.Set(ctx, keyStatusStarted, started); err != nil {
		return err
	}
	return r.Set(ctx, keyStatusError, status.LastError)
}
