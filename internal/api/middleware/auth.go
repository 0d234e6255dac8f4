package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/service"
)

// RequireProxyAuth enforces the single static bearer token the auth gate
// guards, reading the Authorization: Bearer header. When the gate is
// disabled every request passes through.
func RequireProxyAuth(gate *service.AuthGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !gate.Enabled() {
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token == "" || !gate.Allow(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewErrorResponse("authentication_error", "invalid or missing API key"))
			return
		}
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
