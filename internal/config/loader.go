package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/llm-proxy-go/internal/pkg/paths"
)

// Load loads configuration with 3-tier priority:
// Environment variables > SQLite database > Default values
//
// The SQLite tier applies once the database is open: callers should treat
// this Config as the bootstrap listen address and reconcile it against
// the persisted ProxyConfig via the app config repository right after
// running migrations.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()
	cfg.Database.Path = paths.GetDBPath()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env file from the project root.
func loadDotEnv() {
	envFile := filepath.Join(paths.GetBasePath(), ".env")
	data, err := os.ReadFile(envFile)
	if err != nil {
		return // .env file is optional
	}

	for _, line := range splitLines(string(data)) {
		line = trimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if idx := indexOf(line, '='); idx > 0 {
			key := trimSpace(line[:idx])
			val := trimQuotes(trimSpace(line[idx+1:]))
			if os.Getenv(key) == "" {
				os.Setenv(key, val)
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	cfg.Proxy.Host = getEnvStr("LLM_PROXY_HOST", cfg.Proxy.Host)
	cfg.Proxy.Port = getEnvInt("LLM_PROXY_PORT", cfg.Proxy.Port)
	cfg.Proxy.LogLevel = getEnvStr("LOG_LEVEL", cfg.Proxy.LogLevel)

	if dbPath := os.Getenv("LLM_PROXY_DB"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	cfg.LogRotation.MaxSizeMB = getEnvInt("LLM_PROXY_LOG_MAX_SIZE_MB", cfg.LogRotation.MaxSizeMB)
	cfg.LogRotation.MaxBackups = getEnvInt("LLM_PROXY_LOG_MAX_BACKUPS", cfg.LogRotation.MaxBackups)
	cfg.LogRotation.MaxAgeDays = getEnvInt("LLM_PROXY_LOG_MAX_AGE_DAYS", cfg.LogRotation.MaxAgeDays)
	cfg.LogRotation.Compress = getEnvBool("LLM_PROXY_LOG_COMPRESS", cfg.LogRotation.Compress)

	cfg.RateLimit.Enabled = getEnvBool("LLM_PROXY_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.MaxRequests = getEnvInt("LLM_PROXY_RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.WindowSeconds = getEnvInt("LLM_PROXY_RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.WindowSeconds)
}

// String utility functions (avoiding external dependencies).

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
