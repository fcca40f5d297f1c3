package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"photorestore/internal/config"
	"photorestore/internal/events"
	"photorestore/internal/middleware"
	"photorestore/internal/payments"
	"photorestore/internal/prediction"
	"photorestore/internal/repository"
	"photorestore/internal/service"
)

type EventSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan events.JobEvent, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type Services struct {
	Jobs     *service.JobService
	Credits  *service.CreditService
	Uploads  *service.UploadService
	Images   *service.ImageService
	Payments *service.PaymentService
	Events   EventSubscriber
	Cache    *redis.Client
	Checks   map[string]HealthCheck
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	jobs     *service.JobService
	credits  *service.CreditService
	uploads  *service.UploadService
	images   *service.ImageService
	payments *service.PaymentService
	events   EventSubscriber
	cache    *redis.Client
	checks   map[string]HealthCheck
	limiter  *middleware.RateLimiter
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, svc Services) HandlerSet {
	return HandlerSet{
		log:      log,
		cfg:      cfg,
		jobs:     svc.Jobs,
		credits:  svc.Credits,
		uploads:  svc.Uploads,
		images:   svc.Images,
		payments: svc.Payments,
		events:   svc.Events,
		cache:    svc.Cache,
		checks:   svc.Checks,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit),
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	hooks := v1.Group("/webhooks")
	hooks.POST("/prediction",
		middleware.WebhookSignature(h.cfg.Prediction.WebhookSecret, h.cache, h.log),
		h.PredictionWebhook,
	)
	hooks.POST("/stripe", h.StripeWebhook)

	authed := v1.Group("")
	authed.Use(
		middleware.Auth(h.cfg.Supabase.JWTSecret),
		middleware.RequireRoles("authenticated", "service_role"),
	)

	restorations := authed.Group("/restorations")
	restorations.POST("", h.limiter.Middleware(), h.StartRestoration)
	restorations.POST("/cancel", h.CancelRestoration)
	restorations.GET("", h.ListRestorations)
	restorations.GET("/events", h.RestorationEvents)
	restorations.GET("/:id", h.GetRestoration)

	credits := authed.Group("/credits")
	credits.GET("", h.GetCredits)
	credits.POST("/deduct", h.DeductCredits)
	credits.POST("/refund", h.RefundCredits)
	credits.POST("/validate", h.ValidateCredits)
	credits.POST("/activity", h.RecordActivity)
	credits.POST("/milestones/:day/claim", h.ClaimMilestone)

	authed.POST("/uploads", h.limiter.Middleware(), h.UploadPhoto)
	authed.GET("/uploads/signed-url", h.SignedURL)

	authed.GET("/images", h.ListImages)
	authed.DELETE("/images/:id", h.DeleteImage)

	authed.POST("/checkout", h.limiter.Middleware(), h.CreateCheckout)
	authed.GET("/purchases", h.ListPurchases)
}

const genericError = "Something went wrong, please try again"

// respondError maps service errors onto statuses and a curated message.
// Anything unrecognised is logged and surfaced generically.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	h.respondErrorBody(c, err, gin.H{})
}

// respondErrorBody is respondError with extra fields alongside the message.
func (h HandlerSet) respondErrorBody(c *gin.Context, err error, body gin.H) {
	status, msg := classify(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		h.requestLog(c).Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	}
	body["error"] = msg
	c.AbortWithStatusJSON(status, body)
}

// requestLog prefers the request-scoped logger installed by the request id
// middleware.
func (h HandlerSet) requestLog(c *gin.Context) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.log
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, service.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "Unsupported image format"
	case errors.Is(err, repository.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "Insufficient credits"
	case errors.Is(err, repository.ErrJobNotFound):
		return http.StatusNotFound, "Job not found"
	case errors.Is(err, repository.ErrImageNotFound):
		return http.StatusNotFound, "Image not found"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrJobNotCancellable):
		return http.StatusConflict, "Job cannot be cancelled"
	case errors.Is(err, repository.ErrJobNotRefundable):
		return http.StatusConflict, "Job is not eligible for a refund"
	case errors.Is(err, repository.ErrMilestoneUnavailable):
		return http.StatusConflict, "Milestone not available"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "Please retry"
	case errors.Is(err, service.ErrStartFailed):
		return http.StatusBadGateway, "Failed to start restoration"
	case errors.Is(err, service.ErrPaymentProvider), errors.Is(err, payments.ErrProvider):
		return http.StatusBadGateway, "Payment provider unavailable"
	case errors.Is(err, payments.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Payments are not available"
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	case errors.Is(err, prediction.ErrInvalidPayload):
		return http.StatusBadRequest, "Invalid payload"
	}
	return http.StatusInternalServerError, genericError
}

// validationMessage strips the sentinel prefix from our own validation text.
func validationMessage(err error) string {
	msg := err.Error()
	prefix := service.ErrInvalidInput.Error() + ": "
	if idx := strings.Index(msg, prefix); idx >= 0 {
		return msg[idx+len(prefix):]
	}
	return "Invalid request"
}

// actingUser resolves the user a request acts for. A body user_id naming
// someone else reads as not found.
func actingUser(c *gin.Context, claimed string) (string, error) {
	current := middleware.CurrentUserID(c)
	if claimed != "" && claimed != current {
		return "", service.ErrNotFound
	}
	return current, nil
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", service.ErrInvalidInput)
	}
	return nil
}
