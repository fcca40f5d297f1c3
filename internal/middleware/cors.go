package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type CORSOptions struct {
	// Origins are exact origins or "scheme://*.domain" patterns matching any
	// subdomain. Empty allows every origin.
	Origins []string
	MaxAge  time.Duration
}

// CORS answers preflights and tags responses for the browser dashboard.
// Credentials are only offered to origins that matched.
func CORS(opts CORSOptions) gin.HandlerFunc {
	allowAll := len(opts.Origins) == 0
	exact := make(map[string]struct{}, len(opts.Origins))
	var wildcards []string
	for _, origin := range opts.Origins {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if scheme, host, ok := strings.Cut(origin, "://*."); ok {
			wildcards = append(wildcards, scheme+"://", "."+host)
			continue
		}
		exact[origin] = struct{}{}
	}

	allowed := func(origin string) bool {
		if allowAll {
			return true
		}
		if _, ok := exact[origin]; ok {
			return true
		}
		for i := 0; i < len(wildcards); i += 2 {
			if strings.HasPrefix(origin, wildcards[i]) && strings.HasSuffix(origin, wildcards[i+1]) {
				return true
			}
		}
		return false
	}
	maxAge := strconv.Itoa(int(opts.MaxAge / time.Second))

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		if origin != "" {
			h.Add("Vary", "Origin")
			if allowed(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Expose-Headers", "X-Request-Id, Retry-After")
			}
		}

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			if opts.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
