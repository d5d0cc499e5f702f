package permissions

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
)

// RequirePermission gates a route on the authenticated agent holding path.
// Must run after the auth middleware.
func RequirePermission(cache *Cache, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := auth.GetAgentAddress(c)
		if address == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "not authenticated",
			})
			return
		}

		if !cache.Initialized() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "permission cache not ready",
			})
			return
		}

		if !cache.Has(address, path) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "missing permission: " + path,
			})
			return
		}

		c.Next()
	}
}
