package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buzzcutai/backend/internal/models"
)

// activeSubscriptionQuery picks the newest active or trialing row. Older rows are
// historical and never count.
const activeSubscriptionQuery = `
	SELECT id, customer_id, creem_subscription_id, creem_product_id, status, current_period_start, current_period_end,
		canceled_at, metadata, created_at, updated_at
	FROM subscriptions
	WHERE customer_id = $1 AND status IN ('active', 'trialing')
	ORDER BY current_period_start DESC NULLS LAST, created_at DESC
	LIMIT 1
`

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.CustomerID, &s.CreemSubscriptionID, &s.CreemProductID, &s.Status, &s.CurrentPeriodStart,
		&s.CurrentPeriodEnd, &s.CanceledAt, &s.Metadata, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveByCustomerID returns pgx.ErrNoRows when the customer has no active subscription.
func (r *SubscriptionRepo) GetActiveByCustomerID(ctx context.Context, customerID uuid.UUID) (*models.Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, activeSubscriptionQuery, customerID))
}

func (r *SubscriptionRepo) GetActiveByCustomerIDTx(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) (*models.Subscription, error) {
	return scanSubscription(tx.QueryRow(ctx, activeSubscriptionQuery, customerID))
}

// Upsert inserts or updates a subscription keyed by creem_subscription_id.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s *models.Subscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, customer_id, creem_subscription_id, creem_product_id, status, current_period_start,
			current_period_end, canceled_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (creem_subscription_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			creem_product_id = EXCLUDED.creem_product_id,
			status = EXCLUDED.status,
			current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			canceled_at = COALESCE(EXCLUDED.canceled_at, subscriptions.canceled_at),
			metadata = COALESCE(EXCLUDED.metadata, subscriptions.metadata),
			updated_at = now()
		RETURNING id, created_at, updated_at
	`, s.ID, s.CustomerID, s.CreemSubscriptionID, s.CreemProductID, s.Status, s.CurrentPeriodStart,
		s.CurrentPeriodEnd, s.CanceledAt, s.Metadata).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *SubscriptionRepo) ListByCustomerID(ctx context.Context, customerID uuid.UUID) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, creem_subscription_id, creem_product_id, status, current_period_start, current_period_end,
			canceled_at, metadata, created_at, updated_at
		FROM subscriptions WHERE customer_id = $1 ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
