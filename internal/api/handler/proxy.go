package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/service"
	"go.uber.org/zap"
)

// ProxyHandler handles the proxy's single ingress route.
type ProxyHandler struct {
	proxyService *service.ProxyService
	profileStore *service.ProfileStore
	logger       *zap.Logger
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(ps *service.ProxyService, store *service.ProfileStore, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{proxyService: ps, profileStore: store, logger: logger}
}

// Messages handles POST /v1/messages. Auth is enforced upstream by the
// auth gate middleware; this handler only needs an active profile.
func (h *ProxyHandler) Messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if !gjson.ValidBytes(body) {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}
	if !gjson.GetBytes(body, "model").Exists() {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	profile := h.profileStore.GetActive()
	if profile == nil {
		writeError(c, http.StatusServiceUnavailable, "api_error", "no active profile configured")
		return
	}

	if gjson.GetBytes(body, "stream").Bool() {
		h.handleStream(c, profile, body)
		return
	}
	h.handleNonStream(c, profile, body)
}

func (h *ProxyHandler) handleNonStream(c *gin.Context, profile *models.Profile, body []byte) {
	ctx := c.Request.Context()

	result, err := h.proxyService.Dispatch(ctx, profile, body, c.Request.Header)
	if err != nil {
		if ue, ok := err.(*service.UpstreamError); ok {
			c.Data(ue.StatusCode, "application/json", ue.Body)
			return
		}
		h.logger.Error("proxy request failed", zap.Error(err))
		writeError(c, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	c.Header("X-Proxy-Request-Id", result.RequestID)
	contentType := result.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(result.StatusCode, contentType, result.Body)
}

func (h *ProxyHandler) handleStream(c *gin.Context, profile *models.Profile, body []byte) {
	ctx := c.Request.Context()

	chunks, requestID, err := h.proxyService.DispatchStream(ctx, profile, body, c.Request.Header)
	if err != nil {
		if ue, ok := err.(*service.UpstreamError); ok {
			c.Data(ue.StatusCode, "application/json", ue.Body)
			return
		}
		h.logger.Error("proxy stream request failed", zap.Error(err))
		writeError(c, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Proxy-Request-Id", requestID)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			h.logger.Debug("client disconnected during stream", zap.String("request_id", requestID))
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if chunk.Err != nil {
				h.logger.Warn("stream ended with error", zap.String("request_id", requestID), zap.Error(chunk.Err))
				return
			}
			if chunk.Done {
				return
			}
			if len(chunk.Data) > 0 {
				if _, err := c.Writer.Write(chunk.Data); err != nil {
					h.logger.Error("failed to write stream chunk", zap.String("request_id", requestID), zap.Error(err))
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, models.NewErrorResponse(errType, message))
}
