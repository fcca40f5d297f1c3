package models

import "time"

type CreditPurchase struct {
	ID              string
	UserID          string
	Credits         int
	AmountTotal     int64
	Currency        string
	StripeSessionID string
	CreatedAt       time.Time
}

type StripeCustomer struct {
	UserID     string
	CustomerID string
}

type StripeSubscription struct {
	SubscriptionID    string
	CustomerID        string
	Status            string
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	UpdatedAt         time.Time
}

type StripeOrder struct {
	CheckoutSessionID string
	PaymentIntentID   string
	CustomerID        string
	AmountSubtotal    int64
	AmountTotal       int64
	Currency          string
	PaymentStatus     string
	Status            string
	CreatedAt         time.Time
}
