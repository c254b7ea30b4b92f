package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS answers cross-origin requests. In dev every origin is echoed back;
// elsewhere only same-host origins and those listed in allowed ("*" for any).
func CORS(env string, allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if env == "dev" || OriginAllowed(origin, c.Request.Host, allowed) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginAllowed reports whether a request from origin may reach host: same-host
// origins, those in allowed ("*" matches all) and requests without an Origin
// header, which browsers always send cross-site.
func OriginAllowed(origin, host string, allowed []string) bool {
	if origin == "" {
		return true
	}
	bare := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	if strings.EqualFold(bare, host) {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
