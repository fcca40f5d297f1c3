package memory

import (
	"context"
	"sort"
	"sync"

	"photorestore/internal/models"
	"photorestore/internal/repository"
)

type Billing struct {
	mu            sync.Mutex
	credits       *Credits
	customers     map[string]models.StripeCustomer
	events        map[string]struct{}
	purchases     map[string]models.CreditPurchase
	orders        map[string]models.StripeOrder
	subscriptions map[string]models.StripeSubscription
}

// NewBilling returns a billing store that credits fulfilled purchases into credits.
func NewBilling(credits *Credits) *Billing {
	return &Billing{
		credits:       credits,
		customers:     make(map[string]models.StripeCustomer),
		events:        make(map[string]struct{}),
		purchases:     make(map[string]models.CreditPurchase),
		orders:        make(map[string]models.StripeOrder),
		subscriptions: make(map[string]models.StripeSubscription),
	}
}

func (s *Billing) GetCustomer(_ context.Context, userID string) (models.StripeCustomer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[userID]
	if !ok {
		return models.StripeCustomer{}, repository.ErrCustomerNotFound
	}
	return c, nil
}

func (s *Billing) SaveCustomer(_ context.Context, customer models.StripeCustomer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[customer.UserID]; !ok {
		s.customers[customer.UserID] = customer
	}
	return nil
}

func (s *Billing) RecordWebhookEvent(_ context.Context, provider string, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + ":" + eventID
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	s.events[key] = struct{}{}
	return true, nil
}

func (s *Billing) ForgetWebhookEvent(_ context.Context, provider string, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, provider+":"+eventID)
	return nil
}

func (s *Billing) FulfillPurchase(_ context.Context, purchase models.CreditPurchase, order models.StripeOrder) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[purchase.StripeSessionID]; ok {
		return false, 0, nil
	}
	s.purchases[purchase.StripeSessionID] = purchase
	if _, ok := s.orders[order.CheckoutSessionID]; !ok {
		s.orders[order.CheckoutSessionID] = order
	}

	s.credits.mu.Lock()
	balance := s.credits.addLocked(purchase.UserID, purchase.Credits)
	s.credits.mu.Unlock()
	return true, balance, nil
}

func (s *Billing) UpsertSubscription(_ context.Context, sub models.StripeSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.SubscriptionID] = sub
	return nil
}

// Subscription returns a mirrored subscription for assertions.
func (s *Billing) Subscription(id string) (models.StripeSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	return sub, ok
}

func (s *Billing) ListPurchases(_ context.Context, userID string, limit int) ([]models.CreditPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditPurchase
	for _, p := range s.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
