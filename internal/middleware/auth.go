package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"photorestore/internal/security"
)

const (
	ctxAccessClaims  = "access_claims"
	ctxCurrentUserID = "current_user_id"
)

// Auth verifies the bearer access token issued by the auth provider. The SSE
// endpoint may pass it as access_token because EventSource cannot set headers.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := security.ParseAccessToken(tokenStr, jwtSecret)
		if err != nil || claims.UserID() == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		c.Set(ctxAccessClaims, *claims)
		c.Set(ctxCurrentUserID, claims.UserID())
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if c.Request.Method == http.MethodGet {
		return c.Query("access_token")
	}
	return ""
}

// CurrentUserID returns the authenticated user's id, or "" outside Auth.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ctxCurrentUserID)
}

// CurrentClaims returns the verified token claims.
func CurrentClaims(c *gin.Context) (security.AccessClaims, bool) {
	v, ok := c.Get(ctxAccessClaims)
	if !ok {
		return security.AccessClaims{}, false
	}
	claims, ok := v.(security.AccessClaims)
	return claims, ok
}
