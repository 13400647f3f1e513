package middleware

import (
	"net/http"

	"github.com/edirooss/indexpool-server/internal/domain/source"
	"github.com/gin-gonic/gin"
)

// RequireValidSourceID ensures the path param ":id" is a well-formed source ID.
func RequireValidSourceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !source.ValidID(c.Param("id")) {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		c.Next()
	}
}
