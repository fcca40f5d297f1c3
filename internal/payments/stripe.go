package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"photorestore/internal/config"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(cfg config.PaymentsConfig, backends *stripe.Backends) (*Stripe, error) {
	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		return nil, ErrNotConfigured
	}
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, backends)
	return &Stripe{api: api, webhookSecret: cfg.StripeWebhookSecret}, nil
}

func (s *Stripe) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID)

	customer, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrProvider, err)
	}
	return customer.ID, nil
}

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.UserID),
		Mode:              stripe.String(string(req.Mode)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("price_id", req.PriceID)

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: create checkout: %v", ErrProvider, err)
	}
	return CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the handled
// event types.
func (s *Stripe) ParseEvent(payload []byte, signature string) (Event, error) {
	raw, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := Event{ID: raw.ID, Type: EventType(raw.Type)}
	switch ev.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &cs); err != nil {
			return Event{}, fmt.Errorf("decode checkout session: %w", err)
		}
		ev.Checkout = checkoutFromStripe(&cs)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return Event{}, fmt.Errorf("decode subscription: %w", err)
		}
		ev.Subscription = subscriptionFromStripe(&sub)
	}
	return ev, nil
}

func checkoutFromStripe(cs *stripe.CheckoutSession) *CompletedCheckout {
	out := &CompletedCheckout{
		SessionID:      cs.ID,
		UserID:         cs.ClientReferenceID,
		Mode:           Mode(cs.Mode),
		Paid:           cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Status:         string(cs.Status),
		PaymentStatus:  string(cs.PaymentStatus),
		AmountSubtotal: cs.AmountSubtotal,
		AmountTotal:    cs.AmountTotal,
		Currency:       string(cs.Currency),
	}
	if cs.Metadata != nil {
		out.PriceID = cs.Metadata["price_id"]
		if out.UserID == "" {
			out.UserID = cs.Metadata["user_id"]
		}
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	return out
}

func subscriptionFromStripe(sub *stripe.Subscription) *SubscriptionState {
	out := &SubscriptionState{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}
