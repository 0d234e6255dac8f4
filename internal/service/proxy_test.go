package service

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchModel_SameModelIsByteIdentical(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	patched, err := PatchModel(body, "claude-sonnet-4")
	require.NoError(t, err)
	assert.Same(t, &body[0], &patched[0], "expected the same underlying bytes when the model is unchanged")
	assert.Equal(t, body, patched)
}

func TestPatchModel_DifferentModelRewritesOnlyThatField(t *testing.T) {
	body := []byte(`{"model":"claude-haiku-3","messages":[{"role":"user","content":"hi"}]}`)
	patched, err := PatchModel(body, "claude-opus-4")
	require.NoError(t, err)
	assert.Contains(t, string(patched), `"model":"claude-opus-4"`)
	assert.Contains(t, string(patched), `"messages":[{"role":"user","content":"hi"}]`)
}

func TestParseUsageObject(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":10,"output_tokens":20,"cache_creation_input_tokens":1,"cache_read_input_tokens":2}}`)
	u := parseUsageObject(body)
	assert.Equal(t, 10, u.InputTokens)
	assert.Equal(t, 20, u.OutputTokens)
	assert.Equal(t, 1, u.CacheCreationInputTokens)
	assert.Equal(t, 2, u.CacheReadInputTokens)
}

func TestParseUsageObject_Absent(t *testing.T) {
	u := parseUsageObject([]byte(`{"id":"msg_1"}`))
	assert.True(t, u.Empty())
}

func TestParseUsageObject_FallsBackToOpenAIFieldNames(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":30,"completion_tokens":40}}`)
	u := parseUsageObject(body)
	assert.Equal(t, 30, u.InputTokens)
	assert.Equal(t, 40, u.OutputTokens)
}

func TestParseUsageObject_PrefersAnthropicFieldNamesWhenBothPresent(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":10,"prompt_tokens":999,"output_tokens":20,"completion_tokens":999}}`)
	u := parseUsageObject(body)
	assert.Equal(t, 10, u.InputTokens)
	assert.Equal(t, 20, u.OutputTokens)
}

func TestParseSSEUsageLine(t *testing.T) {
	line := []byte(`data: {"type":"message_delta","usage":{"input_tokens":5,"output_tokens":7}}` + "\n")
	in, out, cc, cr, ok := parseSSEUsageLine(line)
	require.True(t, ok)
	assert.Equal(t, 5, in)
	assert.Equal(t, 7, out)
	assert.Equal(t, 0, cc)
	assert.Equal(t, 0, cr)
}

func TestParseSSEUsageLine_NonDataLine(t *testing.T) {
	_, _, _, _, ok := parseSSEUsageLine([]byte("event: ping\n"))
	assert.False(t, ok)
}

func TestParseSSEUsageLine_DoneSentinel(t *testing.T) {
	_, _, _, _, ok := parseSSEUsageLine([]byte("data: [DONE]\n"))
	assert.False(t, ok)
}

func TestParseSSEUsageLine_FallsBackToOpenAIFieldNames(t *testing.T) {
	line := []byte(`data: {"usage":{"prompt_tokens":12,"completion_tokens":34}}` + "\n")
	in, out, _, _, ok := parseSSEUsageLine(line)
	require.True(t, ok)
	assert.Equal(t, 12, in)
	assert.Equal(t, 34, out)
}

func TestParseUpstreamErrorMessage_AnthropicShape(t *testing.T) {
	body := []byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	assert.Equal(t, "slow down", parseUpstreamErrorMessage(body))
}

func TestParseUpstreamErrorMessage_FlatMessageField(t *testing.T) {
	body := []byte(`{"message":"bad request"}`)
	assert.Equal(t, "bad request", parseUpstreamErrorMessage(body))
}

func TestParseUpstreamErrorMessage_FallsBackWhenNeitherPresent(t *testing.T) {
	assert.Equal(t, "Unknown error", parseUpstreamErrorMessage([]byte(`{"id":"x"}`)))
}

func TestIsHopByHop(t *testing.T) {
	assert.True(t, isHopByHop("Host"))
	assert.True(t, isHopByHop("x-api-key"))
	assert.True(t, isHopByHop("CONNECTION"))
	assert.False(t, isHopByHop("Anthropic-Version"))
}

func TestCopyClientHeaders_DropsHopByHopAndKeepsRest(t *testing.T) {
	src := http.Header{}
	src.Set("Host", "client.example.com")
	src.Set("X-Api-Key", "client-key")
	src.Set("Anthropic-Version", "2023-06-01")

	dst := http.Header{}
	copyClientHeaders(src, dst)

	assert.Empty(t, dst.Get("Host"))
	assert.Empty(t, dst.Get("X-Api-Key"))
	assert.Equal(t, "2023-06-01", dst.Get("Anthropic-Version"))
}

func TestTruncateStr(t *testing.T) {
	assert.Equal(t, "hello", truncateStr("hello", 10))
	assert.Equal(t, "hel...", truncateStr("hello", 3))
}
