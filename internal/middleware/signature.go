package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"photorestore/internal/security"
)

const replayWindow = 10 * time.Minute

// WebhookSignature verifies prediction callbacks signed with the shared
// webhook secret and drops replays of an already seen webhook-id. With no
// secret configured the check is skipped.
func WebhookSignature(secret string, redisClient *redis.Client, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		rawBody, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		if err := security.VerifyWebhook(secret, c.Request.Header, rawBody, time.Now()); err != nil {
			log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}

		if redisClient != nil {
			key := "webhook:seen:" + c.GetHeader(security.HeaderWebhookID)
			fresh, err := redisClient.SetNX(c.Request.Context(), key, "1", replayWindow).Result()
			if err != nil {
				// Handlers are idempotent, so a cache outage only loses the fast path.
				log.Warn().Err(err).Msg("webhook replay check unavailable")
			} else if !fresh {
				c.AbortWithStatusJSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
				return
			}
		}

		c.Next()
	}
}
