package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"photorestore/internal/config"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripe(t *testing.T) *Stripe {
	t.Helper()
	s, err := NewStripe(config.PaymentsConfig{
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: testWebhookSecret,
	}, nil)
	require.NoError(t, err)
	return s
}

func sign(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestParseCheckoutCompleted(t *testing.T) {
	payload := `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_123",
			"object": "checkout.session",
			"mode": "payment",
			"status": "complete",
			"payment_status": "paid",
			"client_reference_id": "user-1",
			"customer": "cus_9",
			"payment_intent": "pi_7",
			"amount_subtotal": 500,
			"amount_total": 500,
			"currency": "usd",
			"metadata": {"price_id": "price_small", "user_id": "user-1"}
		}}
	}`

	ev, err := newTestStripe(t).ParseEvent([]byte(payload), sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	require.NotNil(t, ev.Checkout)
	assert.Equal(t, "cs_123", ev.Checkout.SessionID)
	assert.Equal(t, "user-1", ev.Checkout.UserID)
	assert.Equal(t, "price_small", ev.Checkout.PriceID)
	assert.Equal(t, "cus_9", ev.Checkout.CustomerID)
	assert.Equal(t, "pi_7", ev.Checkout.PaymentIntentID)
	assert.True(t, ev.Checkout.Paid)
	assert.Equal(t, ModePayment, ev.Checkout.Mode)
}

func TestParseSubscriptionUpdated(t *testing.T) {
	payload := `{
		"id": "evt_2",
		"object": "event",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_9",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_end": 1767225600,
			"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_monthly", "object": "price"}}]}
		}}
	}`

	ev, err := newTestStripe(t).ParseEvent([]byte(payload), sign(t, payload))
	require.NoError(t, err)
	require.NotNil(t, ev.Subscription)
	assert.Equal(t, "price_monthly", ev.Subscription.PriceID)
	assert.True(t, ev.Subscription.CancelAtPeriodEnd)
	require.NotNil(t, ev.Subscription.CurrentPeriodEnd)
	assert.Equal(t, int64(1767225600), ev.Subscription.CurrentPeriodEnd.Unix())
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	payload := `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`
	_, err := newTestStripe(t).ParseEvent([]byte(payload), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNewStripeRequiresKeys(t *testing.T) {
	_, err := NewStripe(config.PaymentsConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
