// Package models defines the domain models for the LLM proxy service.
package models

import (
	"strings"
	"time"
)

// ModelMappingMode controls how a profile turns an original model name
// into the model name forwarded upstream.
type ModelMappingMode string

const (
	MappingPassthrough ModelMappingMode = "passthrough"
	MappingOverride    ModelMappingMode = "override"
	MappingMap         ModelMappingMode = "map"
)

// MappingRule is one ordered (pattern, target) rule inside a profile's
// model mapping table. Rules are evaluated in order; the first match wins.
type MappingRule struct {
	ID       int64  `json:"id,omitempty"`
	Pattern  string `json:"pattern"`
	Target   string `json:"target"`
	UseRegex bool   `json:"use_regex"`
	Order    int    `json:"-"`
}

// Profile is a configured upstream endpoint the proxy can forward to.
// Exactly one profile may have IsActive set at a time.
type Profile struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	APIBaseURL       string           `json:"api_base_url"`
	APIKey           string           `json:"-"`
	IsActive         bool             `json:"is_active"`
	ModelMappingMode ModelMappingMode `json:"model_mapping_mode"`
	OverrideModel    string           `json:"override_model,omitempty"`
	ModelMappings    []MappingRule    `json:"model_mappings,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a value safe to hand to a request goroutine without
// racing a concurrent store mutation.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ModelMappings != nil {
		cp.ModelMappings = make([]MappingRule, len(p.ModelMappings))
		copy(cp.ModelMappings, p.ModelMappings)
	}
	return &cp
}

// ResolveModel applies the profile's mapping mode to an inbound model name.
func (p *Profile) ResolveModel(original string) string {
	switch p.ModelMappingMode {
	case MappingOverride:
		if p.OverrideModel != "" {
			return p.OverrideModel
		}
		return original
	case MappingMap:
		for _, rule := range p.ModelMappings {
			if rule.Matches(original) {
				return rule.Target
			}
		}
		return original
	default:
		return original
	}
}

// Matches reports whether the rule applies to the given model name.
func (r *MappingRule) Matches(model string) bool {
	if r.UseRegex {
		re, err := compileCache.get(r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(model)
	}
	return r.Pattern == model
}

// AppConfig holds process-wide settings: the control-plane bearer token
// and whether auth enforcement is active.
type AppConfig struct {
	ProxyAPIKey string `json:"proxy_api_key"`
	EnableAuth  bool   `json:"enable_auth"`
}

// ProxyConfig is the listen address the lifecycle controller binds to.
type ProxyConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ProxyStatus reflects the lifecycle controller's current state.
type ProxyStatus struct {
	IsRunning bool       `json:"is_running"`
	Addr      string     `json:"addr"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// RequestLog is one row of the request log. A streaming request is
// inserted at dispatch time and updated in place once usage is known.
type RequestLog struct {
	ID                       int64     `json:"id"`
	RequestID                string    `json:"request_id"`
	Timestamp                time.Time `json:"timestamp"`
	ProfileID                string    `json:"profile_id"`
	ProfileName              string    `json:"profile_name"`
	Provider                 string    `json:"provider"`
	OriginalModel            string    `json:"original_model"`
	ModelMode                string    `json:"model_mode"`
	ForwardedModel           string    `json:"forwarded_model"`
	InputTokens              int       `json:"input_tokens"`
	OutputTokens             int       `json:"output_tokens"`
	CacheCreationInputTokens int       `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int       `json:"cache_read_input_tokens"`
	DurationMs               int64     `json:"duration_ms"`
	UpstreamDurationMs       int64     `json:"upstream_duration_ms"`
	StatusCode               int       `json:"status_code"`
	ErrorMessage             string    `json:"error_message,omitempty"`
	IsStream                 bool      `json:"is_stream"`
	TokensEstimated          bool      `json:"tokens_estimated"`
	RequestSizeBytes         int       `json:"request_size_bytes"`
	ResponseSizeBytes        int       `json:"response_size_bytes"`
	ResponseBody             string    `json:"response_body,omitempty"`
}

// DeriveProvider classifies an upstream base URL for display purposes, the
// same heuristic the control surface uses to group profiles.
func DeriveProvider(apiBaseURL string) string {
	lower := strings.ToLower(apiBaseURL)
	switch {
	case strings.Contains(lower, "anthropic.com"):
		return "Anthropic"
	case strings.Contains(lower, "openai.com"):
		return "OpenAI"
	default:
		return "Custom"
	}
}

// LogFilter narrows a ListLogs query.
type LogFilter struct {
	ProfileID string
	Model     string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// DashboardStats is the aggregate summary served to the control surface.
type DashboardStats struct {
	TodayRequests int64 `json:"today_requests"`
	TodayTokens   int64 `json:"today_tokens"`
	TotalRequests int64 `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`
}

// TokenStatsRange selects a TokenStats bucketing scheme.
type TokenStatsRange string

const (
	RangeHour  TokenStatsRange = "hour"
	RangeDay   TokenStatsRange = "day"
	RangeWeek  TokenStatsRange = "week"
	RangeMonth TokenStatsRange = "month"
)

// TokenStatsPoint is one bucket of a token-usage time series.
type TokenStatsPoint struct {
	Label           string `json:"label"`
	Tokens          int64  `json:"tokens"`
	CacheReadTokens int64  `json:"cache_read_tokens"`
}

// ProfileRankingEntry is one row of the token-consumption leaderboard.
type ProfileRankingEntry struct {
	ProfileID   string  `json:"profile_id"`
	ProfileName string  `json:"profile_name"`
	TotalTokens int64   `json:"total_tokens"`
	Percentage  float64 `json:"percentage"`
}
