package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks responses as uncacheable. Exam state changes with the clock,
// so a cached copy is wrong as soon as a window opens or closes.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
