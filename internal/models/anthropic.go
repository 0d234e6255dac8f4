// Package models defines request/response types for the Anthropic API.
package models

// Usage represents token usage statistics reported by an upstream
// Anthropic-compatible API, either on a non-streaming response body or
// accumulated across a stream's message_start/message_delta events.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Empty reports whether no usage fields were populated, which happens
// when an upstream omits the usage object entirely.
func (u Usage) Empty() bool {
	return u == Usage{}
}

// ErrorResponse is the Anthropic-shaped error envelope the proxy returns
// for its own synthesized failures (auth rejection, no active profile,
// upstream unreachable).
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the nested error payload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds the standard Anthropic-shaped error envelope.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    errType,
			Message: message,
		},
	}
}
