package httpapi

import (
	"github.com/gin-gonic/gin"

	notifyerrors "github.com/notifyhub/notifyhub/internal/errors"
)

// APIKeyAuth rejects requests whose "x-api-key" header does not match
// apiKey. This is the only authentication scheme the ingress gateway
// supports.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("x-api-key") != apiKey {
			respondError(c, notifyerrors.NewAuthenticationError("invalid or missing API key"))
			c.Abort()
			return
		}
		c.Next()
	}
}
