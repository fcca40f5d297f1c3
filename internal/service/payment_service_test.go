package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/config"
	"photorestore/internal/payments"
	"photorestore/internal/repository/memory"
)

type paymentFixture struct {
	svc     *PaymentService
	gateway *fakeGateway
	billing *memory.Billing
	credits *memory.Credits
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	credits := memory.NewCredits(time.Now)
	billing := memory.NewBilling(credits)
	gateway := &fakeGateway{events: map[string]payments.Event{}}
	svc := NewPaymentService(billing, gateway, config.PaymentsConfig{
		Prices: map[string]int{"price_small": 10, "price_large": 50},
	}, zerolog.New(io.Discard))
	return &paymentFixture{svc: svc, gateway: gateway, billing: billing, credits: credits}
}

func checkoutEvent(id, session, price string) payments.Event {
	return payments.Event{
		ID:   id,
		Type: payments.EventCheckoutCompleted,
		Checkout: &payments.CompletedCheckout{
			SessionID:   session,
			UserID:      "user-1",
			PriceID:     price,
			Mode:        payments.ModePayment,
			Paid:        true,
			AmountTotal: 500,
			Currency:    "usd",
		},
	}
}

func TestCreateCheckoutReusesCustomer(t *testing.T) {
	f := newPaymentFixture(t)
	input := CheckoutInput{
		UserID:     "user-1",
		Email:      "a@example.com",
		PriceID:    "price_small",
		Mode:       "payment",
		SuccessURL: "https://app.test/success",
		CancelURL:  "https://app.test/cancel",
	}

	first, err := f.svc.CreateCheckout(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_1", first.URL)

	_, err = f.svc.CreateCheckout(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.customers)
	require.Len(t, f.gateway.checkouts, 2)
	assert.Equal(t, "cus_user-1", f.gateway.checkouts[1].CustomerID)
}

func TestCreateCheckoutValidation(t *testing.T) {
	f := newPaymentFixture(t)
	base := CheckoutInput{UserID: "u", PriceID: "p", Mode: "payment", SuccessURL: "https://a/s", CancelURL: "https://a/c"}

	bad := base
	bad.Mode = "lifetime"
	_, err := f.svc.CreateCheckout(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad = base
	bad.SuccessURL = "/relative"
	_, err = f.svc.CreateCheckout(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.gateway.failNext = true
	_, err = f.svc.CreateCheckout(context.Background(), base)
	assert.ErrorIs(t, err, ErrPaymentProvider)
}

func TestWebhookFulfillsOnce(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.events["evt_1"] = checkoutEvent("evt_1", "cs_1", "price_small")
	f.gateway.events["evt_1b"] = checkoutEvent("evt_1b", "cs_1", "price_small")

	require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("evt_1"), "ok"))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("evt_1"), "ok"))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("evt_1b"), "ok"))

	row, err := f.credits.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, row.Credits)

	purchases, err := f.svc.Purchases(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
}

func TestWebhookUnknownPriceAcknowledged(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.events["evt_2"] = checkoutEvent("evt_2", "cs_2", "price_mystery")

	require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("evt_2"), "ok"))
	row, _ := f.credits.Get(context.Background(), "user-1")
	assert.Equal(t, 0, row.Credits)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.events["evt_3"] = checkoutEvent("evt_3", "cs_3", "price_small")

	err := f.svc.HandleWebhook(context.Background(), []byte("evt_3"), "forged")
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)
}

func TestWebhookMirrorsSubscription(t *testing.T) {
	f := newPaymentFixture(t)
	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	f.gateway.events["evt_4"] = payments.Event{
		ID:   "evt_4",
		Type: payments.EventSubscriptionUpdated,
		Subscription: &payments.SubscriptionState{
			ID:               "sub_1",
			CustomerID:       "cus_1",
			Status:           "active",
			PriceID:          "price_monthly",
			CurrentPeriodEnd: &end,
		},
	}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("evt_4"), "ok"))
	sub, ok := f.billing.Subscription("sub_1")
	require.True(t, ok)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, &end, sub.CurrentPeriodEnd)
}
