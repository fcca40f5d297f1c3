// Package payments wraps the hosted payment provider: checkout sessions,
// customers and signature-verified webhook events.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConfigured    = errors.New("payments not configured")
	ErrInvalidSignature = errors.New("invalid payment webhook signature")
	ErrProvider         = errors.New("payment provider error")
)

type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

func (m Mode) Valid() bool {
	return m == ModePayment || m == ModeSubscription
}

type CheckoutRequest struct {
	UserID     string
	CustomerID string
	PriceID    string
	Mode       Mode
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
)

// Event is a verified webhook delivery. Exactly one of Checkout or
// Subscription is set for the handled types; other types carry neither.
type Event struct {
	ID           string
	Type         EventType
	Checkout     *CompletedCheckout
	Subscription *SubscriptionState
}

type CompletedCheckout struct {
	SessionID       string
	PaymentIntentID string
	CustomerID      string
	UserID          string
	PriceID         string
	Mode            Mode
	Paid            bool
	Status          string
	PaymentStatus   string
	AmountSubtotal  int64
	AmountTotal     int64
	Currency        string
}

type SubscriptionState struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

type Gateway interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (Event, error)
}
