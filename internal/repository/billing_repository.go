package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photorestore/internal/models"
)

type BillingRepository struct {
	pool *pgxpool.Pool
}

func NewBillingRepository(pool *pgxpool.Pool) *BillingRepository {
	return &BillingRepository{pool: pool}
}

func (r *BillingRepository) GetCustomer(ctx context.Context, userID string) (models.StripeCustomer, error) {
	const query = `SELECT user_id, customer_id FROM stripe_customers WHERE user_id = $1`
	var c models.StripeCustomer
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&c.UserID, &c.CustomerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StripeCustomer{}, ErrCustomerNotFound
		}
		return models.StripeCustomer{}, err
	}
	return c, nil
}

func (r *BillingRepository) SaveCustomer(ctx context.Context, customer models.StripeCustomer) error {
	const query = `
		INSERT INTO stripe_customers (user_id, customer_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, customer.UserID, customer.CustomerID)
	return err
}

// RecordWebhookEvent reports whether the event is seen for the first time.
func (r *BillingRepository) RecordWebhookEvent(ctx context.Context, provider string, eventID string) (bool, error) {
	const query = `
		INSERT INTO webhook_events (provider, event_id, received_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	cmd, err := r.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ForgetWebhookEvent drops a recorded event so a redelivery is processed again.
func (r *BillingRepository) ForgetWebhookEvent(ctx context.Context, provider string, eventID string) error {
	const query = `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`
	_, err := r.pool.Exec(ctx, query, provider, eventID)
	return err
}

// FulfillPurchase records the purchase and order and credits the user in one
// transaction. A session that was already fulfilled returns false and changes nothing.
func (r *BillingRepository) FulfillPurchase(ctx context.Context, purchase models.CreditPurchase, order models.StripeOrder) (bool, int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertPurchase = `
		INSERT INTO credit_purchases (id, user_id, credits, amount_total, currency, stripe_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_session_id) DO NOTHING
	`
	cmd, err := tx.Exec(ctx, insertPurchase,
		purchase.ID,
		purchase.UserID,
		purchase.Credits,
		purchase.AmountTotal,
		purchase.Currency,
		purchase.StripeSessionID,
		purchase.CreatedAt,
	)
	if err != nil {
		return false, 0, fmt.Errorf("insert purchase: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return false, 0, nil
	}

	const insertOrder = `
		INSERT INTO stripe_orders (
			checkout_session_id, payment_intent_id, customer_id, amount_subtotal, amount_total,
			currency, payment_status, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (checkout_session_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertOrder,
		order.CheckoutSessionID,
		order.PaymentIntentID,
		order.CustomerID,
		order.AmountSubtotal,
		order.AmountTotal,
		order.Currency,
		order.PaymentStatus,
		order.Status,
		order.CreatedAt,
	); err != nil {
		return false, 0, fmt.Errorf("insert order: %w", err)
	}

	var balance int
	if err := tx.QueryRow(ctx, addCreditsQuery, purchase.UserID, purchase.Credits).Scan(&balance); err != nil {
		return false, 0, fmt.Errorf("add credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("commit: %w", err)
	}
	return true, balance, nil
}

func (r *BillingRepository) UpsertSubscription(ctx context.Context, sub models.StripeSubscription) error {
	const query = `
		INSERT INTO stripe_subscriptions (
			subscription_id, customer_id, status, price_id, current_period_end, cancel_at_period_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id) DO UPDATE
		SET status = EXCLUDED.status,
		    price_id = EXCLUDED.price_id,
		    current_period_end = EXCLUDED.current_period_end,
		    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		sub.SubscriptionID,
		sub.CustomerID,
		sub.Status,
		sub.PriceID,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.UpdatedAt,
	)
	return err
}

func (r *BillingRepository) ListPurchases(ctx context.Context, userID string, limit int) ([]models.CreditPurchase, error) {
	const query = `
		SELECT id, user_id, credits, amount_total, currency, stripe_session_id, created_at
		FROM credit_purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []models.CreditPurchase
	for rows.Next() {
		var p models.CreditPurchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.Credits, &p.AmountTotal, &p.Currency, &p.StripeSessionID, &p.CreatedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
