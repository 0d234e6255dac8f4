package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
)

// AuthGate guards the proxy's ingress with a single static bearer token.
// When auth is disabled every request is allowed through. The comparison
// runs in constant time so response latency can't leak how many
// characters of a guessed token matched.
type AuthGate struct {
	mu      sync.RWMutex
	token   string
	enabled bool

	repo repository.AppConfigRepository
}

// NewAuthGate builds a gate seeded from the given config.
func NewAuthGate(repo repository.AppConfigRepository, token string, enabled bool) *AuthGate {
	return &AuthGate{repo: repo, token: token, enabled: enabled}
}

// Allow reports whether the supplied bearer token may pass.
func (g *AuthGate) Allow(presented string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.enabled {
		return true
	}
	if g.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(g.token)) == 1
}

// Enabled reports whether auth enforcement is currently on.
func (g *AuthGate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// SetEnabled toggles auth enforcement and persists the change.
func (g *AuthGate) SetEnabled(ctx context.Context, enabled bool) error {
	g.mu.Lock()
	token := g.token
	g.mu.Unlock()

	if err := g.repo.SaveAppConfig(ctx, &models.AppConfig{ProxyAPIKey: token, EnableAuth: enabled}); err != nil {
		return err
	}

	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
	return nil
}

// RefreshToken generates a new random proxy API key, persists it, and
// swaps it into the gate atomically. Returns the new token.
func (g *AuthGate) RefreshToken(ctx context.Context) (string, error) {
	token, err := GenerateProxyAPIKey()
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	enabled := g.enabled
	g.mu.Unlock()

	if err := g.repo.SaveAppConfig(ctx, &models.AppConfig{ProxyAPIKey: token, EnableAuth: enabled}); err != nil {
		return "", err
	}

	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	return token, nil
}

// Token returns the current proxy API key.
func (g *AuthGate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// GenerateProxyAPIKey produces a "sk-" prefixed random 32 hex-character
// token, the same shape the teacher uses for its API keys.
func GenerateProxyAPIKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate proxy api key: %w", err)
	}
	return "sk-" + hex.EncodeToString(buf), nil
}
