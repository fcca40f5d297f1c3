package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"photorestore/internal/middleware"
	"photorestore/internal/payments"
	"photorestore/internal/service"
)

const maxStripePayload = 64 << 10

type checkoutRequest struct {
	UserID     string `json:"user_id"`
	PriceID    string `json:"price_id"`
	Mode       string `json:"mode"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h HandlerSet) CreateCheckout(c *gin.Context) {
	if h.payments == nil {
		h.respondError(c, payments.ErrNotConfigured)
		return
	}
	var req checkoutRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	claims, _ := middleware.CurrentClaims(c)

	session, err := h.payments.CreateCheckout(c.Request.Context(), service.CheckoutInput{
		UserID:     userID,
		Email:      claims.Email,
		PriceID:    req.PriceID,
		Mode:       req.Mode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": session.ID, "url": session.URL})
}

type purchaseResponse struct {
	ID          string    `json:"id"`
	Credits     int       `json:"credits"`
	AmountTotal int64     `json:"amount_total"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h HandlerSet) ListPurchases(c *gin.Context) {
	if h.payments == nil {
		c.JSON(http.StatusOK, gin.H{"purchases": []purchaseResponse{}})
		return
	}
	purchases, err := h.payments.Purchases(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]purchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, purchaseResponse{
			ID:          p.ID,
			Credits:     p.Credits,
			AmountTotal: p.AmountTotal,
			Currency:    p.Currency,
			CreatedAt:   p.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"purchases": out})
}

func (h HandlerSet) StripeWebhook(c *gin.Context) {
	if h.payments == nil {
		h.respondError(c, payments.ErrNotConfigured)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxStripePayload)
	payload, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
