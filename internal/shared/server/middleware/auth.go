package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"signals-backend/internal/shared/server/respond"
)

// Auth validates the static bearer token used by the admin and newsletter
// collaborators. When no token is configured (dev), requests pass through.
func Auth(apiToken string) gin.HandlerFunc {
	expected := strings.TrimSpace(apiToken)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if expected == "" {
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		c.Next()
	}
}
