package middleware

import (
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth authenticates requests with a static API key from the
// SITEPRESS_API_KEY environment variable. Health and metrics endpoints stay
// open for probes and scrapers.
func APIKeyAuth() gin.HandlerFunc {
	apiKey := os.Getenv("SITEPRESS_API_KEY")
	if apiKey == "" {
		log.Printf("⚠️ Warning: SITEPRESS_API_KEY not set, API authentication disabled")
	}

	return func(c *gin.Context) {
		if apiKey == "" || c.Request.URL.Path == "/" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		requestKey := c.GetHeader("X-API-Key")
		if requestKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "API key is required",
			})
			c.Abort()
			return
		}
		if requestKey != apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
