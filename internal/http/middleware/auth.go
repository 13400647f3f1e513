package middleware

import (
	"net/http"
	"strings"

	"github.com/edirooss/indexpool-server/internal/service"
	"github.com/gin-gonic/gin"
)

// Authentication resolves the request's Principal or rejects with 401.
// Session cookies are tried first, then "Authorization: Bearer" tokens.
// On success the Principal is stored on the request context for downstream
// authorization checks and access logging.
func Authentication(authsvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authsvc.AuthenticateWithSession(c); ok {
			c.Next()
			return
		}
		if token, ok := bearerToken(c); ok {
			if _, ok := authsvc.AuthenticateWithBearerToken(c, token); ok {
				c.Next()
				return
			}
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

// bearerToken extracts the token from the Authorization header.
// Scheme matching is case-insensitive per RFC 9110.
func bearerToken(c *gin.Context) (string, bool) {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
