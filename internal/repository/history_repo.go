package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buzzcutai/backend/internal/models"
)

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

// CreateTx appends a credits_history entry inside the given transaction. A
// repeated (customer_id, grant_key) pair fails with a unique violation.
func (r *HistoryRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credits_history (id, customer_id, amount, type, description, metadata, creem_order_id, grant_key, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, c.ID, c.CustomerID, c.Amount, c.Type, c.Description, c.Metadata, c.CreemOrderID, c.GrantKey, c.BalanceAfter).Scan(&c.CreatedAt)
}

// ListByCustomerID returns the newest entries first, at most limit rows.
func (r *HistoryRepo) ListByCustomerID(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	return r.list(ctx, `
		SELECT id, customer_id, amount, type, description, metadata, creem_order_id, grant_key, balance_after, created_at
		FROM credits_history WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, customerID, limit)
}

// ListSince returns entries created at or after since, oldest first.
func (r *HistoryRepo) ListSince(ctx context.Context, customerID uuid.UUID, since time.Time) ([]*models.CreditTransaction, error) {
	return r.list(ctx, `
		SELECT id, customer_id, amount, type, description, metadata, creem_order_id, grant_key, balance_after, created_at
		FROM credits_history WHERE customer_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, customerID, since)
}

func (r *HistoryRepo) list(ctx context.Context, query string, args ...any) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var c models.CreditTransaction
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.Amount, &c.Type, &c.Description, &c.Metadata, &c.CreemOrderID, &c.GrantKey, &c.BalanceAfter, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
