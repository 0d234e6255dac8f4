package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/user/llm-proxy-go/tests/testutil"
)

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	rl := newRateLimiter(3, 60)

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.isAllowed("client-a")
		assert.True(t, allowed)
	}
	allowed, remaining, _ := rl.isAllowed("client-a")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestRateLimiter_TracksClientsIndependently(t *testing.T) {
	rl := newRateLimiter(1, 60)

	allowedA, _, _ := rl.isAllowed("a")
	allowedB, _, _ := rl.isAllowed("b")
	assert.True(t, allowedA)
	assert.True(t, allowedB)

	allowedA2, _, _ := rl.isAllowed("a")
	assert.False(t, allowedA2)
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	mw := RateLimit(&RateLimitConfig{Enabled: false})
	c, w := testutil.NewTestContextWithRequest("POST", "/v1/messages", nil)
	mw(c)
	assert.False(t, c.IsAborted())
	assert.Equal(t, 200, w.Code)
}

func TestRateLimit_ExemptPathBypassesLimiter(t *testing.T) {
	mw := RateLimit(&RateLimitConfig{Enabled: true, MaxRequests: 0, WindowSeconds: 60, ExemptPaths: []string{"/api/status"}})
	c, _ := testutil.NewTestContextWithRequest("GET", "/api/status", nil)
	mw(c)
	assert.False(t, c.IsAborted())
}

func TestRateLimit_ExceedingMaxAborts(t *testing.T) {
	mw := RateLimit(&RateLimitConfig{Enabled: true, MaxRequests: 1, WindowSeconds: 60})

	c1, _ := testutil.NewTestContextWithRequest("POST", "/v1/messages", nil)
	mw(c1)
	assert.False(t, c1.IsAborted())

	c2, w2 := testutil.NewTestContextWithRequest("POST", "/v1/messages", nil)
	mw(c2)
	assert.True(t, c2.IsAborted())
	assert.Equal(t, 429, w2.Code)
}

func TestGetClientIP_PrefersForwardedFor(t *testing.T) {
	c, _ := testutil.NewTestContextWithRequest("GET", "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", getClientIP(c))
}

func TestGetClientIP_FallsBackToRealIP(t *testing.T) {
	c, _ := testutil.NewTestContextWithRequest("GET", "/", nil)
	c.Request.Header.Set("X-Real-IP", "10.0.0.5")
	assert.Equal(t, "10.0.0.5", getClientIP(c))
}
