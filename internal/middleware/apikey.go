package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
	"github.com/telegraphhq/telegraph/pkg/response"
)

// APIKeyAuth gates dashboard routes behind a shared API key carried in the
// Authorization header. The comparison is constant time.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader("Authorization"))
		presented = strings.TrimPrefix(presented, "Bearer ")

		if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(presented)) != 1 {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}
