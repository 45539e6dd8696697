package handlers

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserId = "userId"
	ctxIsCron = "isCron"
)

// AuthRequired resolves the caller identity. The upstream identity
// proxy sets X-User-ID for interactive callers; scheduled callers
// authenticate with the shared X-Cron-Key instead.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-Cron-Key"); key != "" {
			secret := os.Getenv("CRON_SECRET")
			if secret != "" && key == secret {
				c.Set(ctxIsCron, true)
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid cron key"})
			return
		}

		userId, err := strconv.Atoi(c.GetHeader("X-User-ID"))
		if err != nil || userId <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}
		c.Set(ctxUserId, userId)
		c.Next()
	}
}

func callerUserId(c *gin.Context) int {
	if v, ok := c.Get(ctxUserId); ok {
		if id, ok := v.(int); ok {
			return id
		}
	}
	return 0
}

func isCronCaller(c *gin.Context) bool {
	v, ok := c.Get(ctxIsCron)
	return ok && v == true
}
