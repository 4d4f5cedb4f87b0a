package api

import "github.com/gin-gonic/gin"

// securityHeaders sets a fixed set of defensive response headers on every
// request — this surface is loopback-only but editor hooks render injected
// Markdown, so the usual content-sniffing/framing protections still apply.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}
