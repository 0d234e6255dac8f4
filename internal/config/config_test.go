package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.Proxy.Port)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestConfig_Validate_RejectsOutOfRangePort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Proxy.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestGetEnvStr(t *testing.T) {
	t.Setenv("LLM_PROXY_TEST_STR", "")
	assert.Equal(t, "fallback", getEnvStr("LLM_PROXY_TEST_STR", "fallback"))

	t.Setenv("LLM_PROXY_TEST_STR", "override")
	assert.Equal(t, "override", getEnvStr("LLM_PROXY_TEST_STR", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("LLM_PROXY_TEST_INT", "")
	assert.Equal(t, 5, getEnvInt("LLM_PROXY_TEST_INT", 5))

	t.Setenv("LLM_PROXY_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("LLM_PROXY_TEST_INT", 5))

	t.Setenv("LLM_PROXY_TEST_INT", "not-a-number")
	assert.Equal(t, 5, getEnvInt("LLM_PROXY_TEST_INT", 5), "invalid values fall back to the default")
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "on": true, "false": false, "0": false, "": false}
	for val, want := range cases {
		t.Setenv("LLM_PROXY_TEST_BOOL", val)
		assert.Equal(t, want, getEnvBool("LLM_PROXY_TEST_BOOL", false), "value %q", val)
	}

	assert.True(t, getEnvBool("LLM_PROXY_TEST_BOOL_UNSET", true))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitLines("a\nb\nc"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb"))
	assert.Equal(t, []string(nil), splitLines(""))
}

func TestTrimSpace(t *testing.T) {
	assert.Equal(t, "x", trimSpace("  x\t"))
	assert.Equal(t, "a b", trimSpace(" a b "))
}

func TestTrimQuotes(t *testing.T) {
	assert.Equal(t, "x", trimQuotes(`"x"`))
	assert.Equal(t, "x", trimQuotes(`'x'`))
	assert.Equal(t, "x", trimQuotes("x"))
}

func TestIndexOf(t *testing.T) {
	assert.Equal(t, 1, indexOf("a=b", '='))
	assert.Equal(t, -1, indexOf("abc", '='))
}
