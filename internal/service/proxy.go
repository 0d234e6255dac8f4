package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"go.uber.org/zap"
)

// streamWatchdog bounds how long a single stream may run before the relay
// gives up on the upstream and closes the client connection.
const streamWatchdog = 120 * time.Second

// streamCompletionGrace is how long the relay waits after the upstream
// closes its side, in case a trailing usage-bearing event is still
// in flight in the bufio.Reader, before falling back to a local count.
const streamCompletionGrace = 100 * time.Millisecond

// desktopUserAgent is sent on every upstream request regardless of what
// the client sent, since some providers reject non-browser UAs.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// hopByHopHeaders are stripped from the client's request before it is
// copied onto the upstream request.
var hopByHopHeaders = []string{"Host", "Connection", "Content-Length", "X-Api-Key"}

// UpstreamError represents a non-2xx response from the upstream provider.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// DispatchResult carries everything the handler needs to reply to the
// client after a non-streaming forward.
type DispatchResult struct {
	RequestID  string
	StatusCode int
	Body       []byte
	Header     http.Header
}

// ProxyService forwards /v1/messages requests to the active profile's
// upstream, patching only the model field, and relays the usage object
// into telemetry.
type ProxyService struct {
	logRepo      repository.RequestLogRepository
	tokenCounter *TokenCounter
	logger       *zap.Logger
	client       *http.Client
	streamClient *http.Client
}

// NewProxyService creates a new ProxyService.
func NewProxyService(logRepo repository.RequestLogRepository, counter *TokenCounter, logger *zap.Logger) *ProxyService {
	return &ProxyService{
		logRepo:      logRepo,
		tokenCounter: counter,
		logger:       logger,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		streamClient: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// PatchModel rewrites the JSON body's "model" field to forwarded, leaving
// every other byte untouched when forwarded equals the body's existing
// model value.
func PatchModel(body []byte, forwarded string) ([]byte, error) {
	current := gjson.GetBytes(body, "model").String()
	if current == forwarded {
		return body, nil
	}
	return sjson.SetBytes(body, "model", forwarded)
}

// Dispatch forwards a non-streaming request to the active profile and
// returns the raw upstream response body untouched.
func (s *ProxyService) Dispatch(ctx context.Context, profile *models.Profile, body []byte, originalHeaders http.Header) (*DispatchResult, error) {
	requestID := uuid.New().String()
	start := time.Now()

	upReq, err := s.buildUpstreamRequest(ctx, profile, body, originalHeaders, false)
	if err != nil {
		return nil, err
	}

	upstreamStart := time.Now()
	resp, err := s.client.Do(upReq.Request)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()
	upstreamDurationMs := time.Since(upstreamStart).Milliseconds()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	durationMs := time.Since(start).Milliseconds()

	usage := parseUsageObject(respBody)
	originalModel := gjson.GetBytes(body, "model").String()
	forwardedModel := gjson.GetBytes(upReq.bodyForLog, "model").String()

	log := &models.RequestLog{
		RequestID:          requestID,
		Timestamp:          start,
		ProfileID:          profile.ID,
		ProfileName:        profile.Name,
		Provider:           models.DeriveProvider(profile.APIBaseURL),
		OriginalModel:      originalModel,
		ModelMode:          string(profile.ModelMappingMode),
		ForwardedModel:     forwardedModel,
		DurationMs:         durationMs,
		UpstreamDurationMs: upstreamDurationMs,
		StatusCode:         resp.StatusCode,
		IsStream:           false,
		RequestSizeBytes:   len(upReq.bodyForLog),
		ResponseSizeBytes:  len(respBody),
	}
	if usage.Empty() && s.tokenCounter != nil {
		log.InputTokens = s.tokenCounter.CountRequestBody(body)
		log.TokensEstimated = true
	} else {
		log.InputTokens = usage.InputTokens
		log.OutputTokens = usage.OutputTokens
		log.CacheCreationInputTokens = usage.CacheCreationInputTokens
		log.CacheReadInputTokens = usage.CacheReadInputTokens
	}

	// response_body is a diagnostic field, not a mirror of every reply: it
	// is only worth the storage for a failed parse, an upstream error, or a
	// reply that parsed clean but reported zero output tokens.
	switch {
	case !gjson.ValidBytes(respBody):
		log.ResponseBody = truncateStr(string(respBody), 2000)
		log.ErrorMessage = "failed to parse response as JSON"
	case resp.StatusCode >= 400:
		log.ResponseBody = truncateStr(string(respBody), 2000)
		log.ErrorMessage = parseUpstreamErrorMessage(respBody)
	case usage.OutputTokens == 0:
		log.ResponseBody = truncateStr(string(respBody), 2000)
	}

	s.saveLog(log)

	return &DispatchResult{RequestID: requestID, StatusCode: resp.StatusCode, Body: respBody, Header: resp.Header}, nil
}

// upstreamRequest wraps http.Request with the already-patched body so the
// caller can recover the forwarded model name without reparsing.
type upstreamRequest struct {
	*http.Request
	bodyForLog []byte
}

func (s *ProxyService) buildUpstreamRequest(ctx context.Context, profile *models.Profile, body []byte, originalHeaders http.Header, stream bool) (*upstreamRequest, error) {
	originalModel := gjson.GetBytes(body, "model").String()
	forwardedModel := profile.ResolveModel(originalModel)

	patched, err := PatchModel(body, forwardedModel)
	if err != nil {
		return nil, fmt.Errorf("patch model field: %w", err)
	}

	upstreamURL := strings.TrimSuffix(profile.APIBaseURL, "/") + "/v1/messages"
	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(patched))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	copyClientHeaders(originalHeaders, upReq.Header)
	upReq.Header.Set("Authorization", "Bearer "+profile.APIKey)
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("User-Agent", desktopUserAgent)
	if stream {
		upReq.Header.Set("Accept", "text/event-stream")
	}
	upReq.Header.Set("anthropic-version", headerOrDefault(originalHeaders, "Anthropic-Version", "2023-06-01"))

	return &upstreamRequest{Request: upReq, bodyForLog: patched}, nil
}

// StreamChunk is one piece of relayed SSE data, or the terminal signal
// carrying final telemetry once the stream ends.
type StreamChunk struct {
	Data []byte
	Err  error
	Done bool
}

// DispatchStream forwards a streaming request and relays raw SSE bytes to
// the returned channel while harvesting usage in the background. Telemetry
// is inserted immediately (so a concurrent get_logs call sees the request
// in flight) and updated once the stream concludes.
func (s *ProxyService) DispatchStream(ctx context.Context, profile *models.Profile, body []byte, originalHeaders http.Header) (<-chan StreamChunk, string, error) {
	requestID := uuid.New().String()
	start := time.Now()

	upReq, err := s.buildUpstreamRequest(ctx, profile, body, originalHeaders, true)
	if err != nil {
		return nil, "", err
	}

	upstreamStart := time.Now()
	resp, err := s.streamClient.Do(upReq.Request)
	if err != nil {
		return nil, "", fmt.Errorf("upstream request failed: %w", err)
	}
	upstreamDurationMs := time.Since(upstreamStart).Milliseconds()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, "", &UpstreamError{StatusCode: resp.StatusCode, Body: respBody}
	}

	originalModel := gjson.GetBytes(body, "model").String()
	forwardedModel := gjson.GetBytes(upReq.bodyForLog, "model").String()

	initial := &models.RequestLog{
		RequestID:          requestID,
		Timestamp:          start,
		ProfileID:          profile.ID,
		ProfileName:        profile.Name,
		Provider:           models.DeriveProvider(profile.APIBaseURL),
		OriginalModel:      originalModel,
		ModelMode:          string(profile.ModelMappingMode),
		ForwardedModel:     forwardedModel,
		UpstreamDurationMs: upstreamDurationMs,
		StatusCode:         resp.StatusCode,
		IsStream:           true,
		RequestSizeBytes:   len(upReq.bodyForLog),
	}
	s.saveLog(initial)

	out := make(chan StreamChunk, 64)
	go s.relayStream(ctx, resp, requestID, start, body, out)
	return out, requestID, nil
}

func (s *ProxyService) relayStream(ctx context.Context, resp *http.Response, requestID string, start time.Time, requestBody []byte, out chan<- StreamChunk) {
	defer close(out)
	defer resp.Body.Close()

	watchdogCtx, cancel := context.WithTimeout(ctx, streamWatchdog)
	defer cancel()

	// Close the body out from under ReadBytes once the watchdog fires,
	// since bufio.Reader has no context-aware read primitive.
	watchdogFired := make(chan struct{})
	go func() {
		select {
		case <-watchdogCtx.Done():
			resp.Body.Close()
		case <-watchdogFired:
		}
	}()
	defer close(watchdogFired)

	reader := bufio.NewReader(resp.Body)
	var inputTokens, outputTokens, cacheCreation, cacheRead int
	var sawUsage bool
	var lastText strings.Builder

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			out <- StreamChunk{Data: line}
			it, ot, cc, cr, ok := parseSSEUsageLine(line)
			if ok {
				sawUsage = true
				if it > 0 {
					inputTokens = it
				}
				if ot > 0 {
					outputTokens = ot
				}
				if cc > 0 {
					cacheCreation = cc
				}
				if cr > 0 {
					cacheRead = cr
				}
			}
			appendSSEText(line, &lastText)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.logger != nil {
				s.logger.Warn("stream read error", zap.String("request_id", requestID), zap.Error(err))
			}
			break
		}
	}

	estimated := false
	if !sawUsage && s.tokenCounter != nil {
		time.Sleep(streamCompletionGrace)
		inputTokens = s.tokenCounter.CountRequestBody(requestBody)
		outputTokens = s.tokenCounter.CountResponseText(lastText.String())
		estimated = true
	}

	durationMs := time.Since(start).Milliseconds()
	if s.logRepo != nil {
		updCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.logRepo.UpdateStreamTotals(updCtx, requestID, inputTokens, outputTokens, cacheCreation, cacheRead, durationMs, estimated); err != nil && s.logger != nil {
			s.logger.Error("failed to update stream totals", zap.String("request_id", requestID), zap.Error(err))
		}
	}

	out <- StreamChunk{Done: true}
}

// parseUsageObject extracts the usage object from a non-streaming response
// body via gjson, avoiding a full unmarshal of content blocks. Providers
// that speak the OpenAI dialect report prompt_tokens/completion_tokens
// instead of input_tokens/output_tokens; both names are accepted, with
// the Anthropic-named field taking priority when a response carries both.
func parseUsageObject(body []byte) models.Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return models.Usage{}
	}
	return models.Usage{
		InputTokens:              firstNonZeroInt(u, "input_tokens", "prompt_tokens"),
		OutputTokens:             firstNonZeroInt(u, "output_tokens", "completion_tokens"),
		CacheCreationInputTokens: int(u.Get("cache_creation_input_tokens").Int()),
		CacheReadInputTokens:     int(u.Get("cache_read_input_tokens").Int()),
	}
}

// parseSSEUsageLine extracts usage fields from a single SSE "data: " line,
// accepting the same input_tokens/prompt_tokens and
// output_tokens/completion_tokens aliases as parseUsageObject.
func parseSSEUsageLine(line []byte) (input, output, cacheCreation, cacheRead int, ok bool) {
	s := strings.TrimRight(string(line), "\r\n")
	if !strings.HasPrefix(s, "data:") {
		return 0, 0, 0, 0, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(s, "data:"))
	if payload == "" || payload == "[DONE]" {
		return 0, 0, 0, 0, false
	}
	usage := gjson.Get(payload, "usage")
	if !usage.Exists() {
		usage = gjson.Get(payload, "message.usage")
	}
	if !usage.Exists() {
		return 0, 0, 0, 0, false
	}
	return firstNonZeroInt(usage, "input_tokens", "prompt_tokens"),
		firstNonZeroInt(usage, "output_tokens", "completion_tokens"),
		int(usage.Get("cache_creation_input_tokens").Int()),
		int(usage.Get("cache_read_input_tokens").Int()),
		true
}

// firstNonZeroInt reads primary from usage, falling back to alias only
// when primary is absent or zero.
func firstNonZeroInt(usage gjson.Result, primary, alias string) int {
	if v := usage.Get(primary).Int(); v != 0 {
		return int(v)
	}
	return int(usage.Get(alias).Int())
}

// parseUpstreamErrorMessage extracts a human-readable message from an
// upstream error body: an Anthropic-shaped {"error":{"message":...}}
// envelope, a flat {"message":...} field, or a fixed fallback when
// neither is present.
func parseUpstreamErrorMessage(body []byte) string {
	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	return "Unknown error"
}

// appendSSEText accumulates assistant text_delta content so a local token
// count can be estimated if usage never arrives.
func appendSSEText(line []byte, buf *strings.Builder) {
	s := strings.TrimRight(string(line), "\r\n")
	if !strings.HasPrefix(s, "data:") {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(s, "data:"))
	if payload == "" || payload == "[DONE]" {
		return
	}
	if text := gjson.Get(payload, "delta.text"); text.Exists() {
		buf.WriteString(text.String())
	}
}

func (s *ProxyService) saveLog(log *models.RequestLog) {
	if s.logRepo == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("panic saving request log", zap.Any("recover", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.logRepo.Insert(ctx, log); err != nil && s.logger != nil {
			s.logger.Error("failed to save request log", zap.String("request_id", log.RequestID), zap.Error(err))
		}
	}()
}

// --- header helpers, grounded in the teacher's copyAnthropicHeaders/headerOrDefault ---

func headerOrDefault(h http.Header, key, def string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	return def
}

// copyClientHeaders copies every client header onto the upstream request
// except the hop-by-hop set, which the caller (or http.Transport, for
// Content-Length) sets from scratch.
func copyClientHeaders(src, dst http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}

func truncateStr(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
