package middleware

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/config"
	"photorestore/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": CurrentUserID(c)})
}

func TestAuthAcceptsValidToken(t *testing.T) {
	r := gin.New()
	r.GET("/me", Auth("jwt-secret"), RequireRoles("authenticated"), whoami)

	token, err := security.IssueAccessToken("jwt-secret", "user-1", "a@example.com", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"user-1"}`, rec.Body.String())
}

func TestAuthQueryTokenOnlyForGet(t *testing.T) {
	r := gin.New()
	r.GET("/events", Auth("jwt-secret"), whoami)
	r.POST("/events", Auth("jwt-secret"), whoami)

	token, err := security.IssueAccessToken("jwt-secret", "user-1", "", time.Minute)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?access_token="+token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events?access_token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	r := gin.New()
	r.GET("/me", Auth("jwt-secret"), whoami)

	wrongKey, err := security.IssueAccessToken("other-secret", "user-1", "", time.Minute)
	require.NoError(t, err)

	for _, header := range []string{"", "Basic abc", "Bearer " + wrongKey} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	r := gin.New()
	r.GET("/me", Auth("jwt-secret"), RequireRoles("service_role"), whoami)

	token, err := security.IssueAccessToken("jwt-secret", "user-1", "", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	r := gin.New()
	r.GET("/x", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestWebhookSignature(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("hook-key"))
	r := gin.New()
	r.POST("/hook", WebhookSignature(secret, nil, zerolog.New(io.Discard)), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})

	body := `{"id":"p1","status":"succeeded"}`
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := security.ComputeWebhookSignature(secret, "msg_1", stamp, []byte(body))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set(security.HeaderWebhookID, "msg_1")
	req.Header.Set(security.HeaderWebhookTimestamp, stamp)
	req.Header.Set(security.HeaderWebhookSignature, "v1,"+sig)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String(), "body is restored for the handler")

	req = httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookSignatureDisabledWithoutSecret(t *testing.T) {
	r := gin.New()
	r.POST("/hook", WebhookSignature("", nil, zerolog.New(io.Discard)), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
