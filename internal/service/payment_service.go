package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/config"
	"photorestore/internal/ids"
	"photorestore/internal/metrics"
	"photorestore/internal/models"
	"photorestore/internal/payments"
	"photorestore/internal/repository"
)

const stripeProvider = "stripe"

type CheckoutInput struct {
	UserID     string
	Email      string
	PriceID    string
	Mode       string
	SuccessURL string
	CancelURL  string
}

type PaymentService struct {
	billing BillingStore
	gateway payments.Gateway
	prices  map[string]int
	log     zerolog.Logger
	now     func() time.Time
}

func NewPaymentService(billing BillingStore, gateway payments.Gateway, cfg config.PaymentsConfig, log zerolog.Logger) *PaymentService {
	return &PaymentService{
		billing: billing,
		gateway: gateway,
		prices:  cfg.Prices,
		log:     log,
		now:     time.Now,
	}
}

// CreditsForPrice resolves a one-time price to the credits it grants.
func (s *PaymentService) CreditsForPrice(priceID string) (int, bool) {
	credits, ok := s.prices[priceID]
	return credits, ok
}

func (s *PaymentService) CreateCheckout(ctx context.Context, input CheckoutInput) (payments.CheckoutSession, error) {
	if s.gateway == nil {
		return payments.CheckoutSession{}, payments.ErrNotConfigured
	}
	mode := payments.Mode(input.Mode)
	if input.UserID == "" || input.PriceID == "" || !mode.Valid() {
		return payments.CheckoutSession{}, fmt.Errorf("%w: user_id, price_id and a valid mode are required", ErrInvalidInput)
	}
	if !validRedirect(input.SuccessURL) || !validRedirect(input.CancelURL) {
		return payments.CheckoutSession{}, fmt.Errorf("%w: success_url and cancel_url must be absolute URLs", ErrInvalidInput)
	}

	customerID, err := s.customerFor(ctx, input.UserID, input.Email)
	if err != nil {
		return payments.CheckoutSession{}, err
	}

	session, err := s.gateway.CreateCheckout(ctx, payments.CheckoutRequest{
		UserID:     input.UserID,
		CustomerID: customerID,
		PriceID:    input.PriceID,
		Mode:       mode,
		SuccessURL: input.SuccessURL,
		CancelURL:  input.CancelURL,
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", input.UserID).Msg("create checkout failed")
		return payments.CheckoutSession{}, ErrPaymentProvider
	}
	return session, nil
}

func (s *PaymentService) customerFor(ctx context.Context, userID, email string) (string, error) {
	existing, err := s.billing.GetCustomer(ctx, userID)
	if err == nil {
		return existing.CustomerID, nil
	}
	if !errors.Is(err, repository.ErrCustomerNotFound) {
		return "", fmt.Errorf("lookup customer: %w", err)
	}

	customerID, err := s.gateway.CreateCustomer(ctx, userID, email)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("create customer failed")
		return "", ErrPaymentProvider
	}
	if err := s.billing.SaveCustomer(ctx, models.StripeCustomer{UserID: userID, CustomerID: customerID}); err != nil {
		return "", fmt.Errorf("save customer: %w", err)
	}
	return customerID, nil
}

// HandleWebhook verifies and applies a payment provider delivery. Redelivered
// events are acknowledged without reapplying them.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return payments.ErrNotConfigured
	}
	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return err
	}

	fresh, err := s.billing.RecordWebhookEvent(ctx, stripeProvider, ev.ID)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !fresh {
		s.log.Debug().Str("event_id", ev.ID).Msg("duplicate payment event ignored")
		return nil
	}

	switch {
	case ev.Checkout != nil:
		err = s.fulfill(ctx, ev.ID, *ev.Checkout)
	case ev.Subscription != nil:
		err = s.mirrorSubscription(ctx, *ev.Subscription)
	default:
		s.log.Debug().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("payment event ignored")
	}
	if err != nil {
		if forgetErr := s.billing.ForgetWebhookEvent(ctx, stripeProvider, ev.ID); forgetErr != nil {
			s.log.Error().Err(forgetErr).Str("event_id", ev.ID).Msg("forget failed payment event")
		}
		return err
	}
	return nil
}

func (s *PaymentService) fulfill(ctx context.Context, eventID string, cs payments.CompletedCheckout) error {
	if cs.Mode != payments.ModePayment || !cs.Paid {
		return nil
	}
	logger := s.log.With().Str("event_id", eventID).Str("session_id", cs.SessionID).Str("user_id", cs.UserID).Logger()

	credits, ok := s.CreditsForPrice(cs.PriceID)
	if !ok {
		logger.Warn().Str("price_id", cs.PriceID).Msg("unknown price, no credits granted")
		return nil
	}
	if cs.UserID == "" {
		logger.Warn().Msg("checkout without user reference, no credits granted")
		return nil
	}

	now := s.now().UTC()
	granted, balance, err := s.billing.FulfillPurchase(ctx, models.CreditPurchase{
		ID:              ids.New(),
		UserID:          cs.UserID,
		Credits:         credits,
		AmountTotal:     cs.AmountTotal,
		Currency:        cs.Currency,
		StripeSessionID: cs.SessionID,
		CreatedAt:       now,
	}, models.StripeOrder{
		CheckoutSessionID: cs.SessionID,
		PaymentIntentID:   cs.PaymentIntentID,
		CustomerID:        cs.CustomerID,
		AmountSubtotal:    cs.AmountSubtotal,
		AmountTotal:       cs.AmountTotal,
		Currency:          cs.Currency,
		PaymentStatus:     cs.PaymentStatus,
		Status:            cs.Status,
		CreatedAt:         now,
	})
	metrics.RecordCreditMutation("purchase", err)
	if err != nil {
		return fmt.Errorf("fulfill purchase: %w", err)
	}
	if !granted {
		logger.Info().Msg("checkout already fulfilled")
		return nil
	}
	logger.Info().Int("credits", credits).Int("balance", balance).Msg("purchase fulfilled")
	return nil
}

func (s *PaymentService) mirrorSubscription(ctx context.Context, sub payments.SubscriptionState) error {
	err := s.billing.UpsertSubscription(ctx, models.StripeSubscription{
		SubscriptionID:    sub.ID,
		CustomerID:        sub.CustomerID,
		Status:            sub.Status,
		PriceID:           sub.PriceID,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UpdatedAt:         s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *PaymentService) Purchases(ctx context.Context, userID string) ([]models.CreditPurchase, error) {
	return s.billing.ListPurchases(ctx, userID, 50)
}

func validRedirect(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
