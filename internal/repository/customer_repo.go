package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buzzcutai/backend/internal/models"
)

const customerColumns = `id, user_id, email, name, credits, creem_customer_id, last_credit_grant_date,
	last_monthly_credit_grant_date, monthly_credits_granted, created_at, updated_at`

type CustomerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

func (r *CustomerRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.Name, &c.Credits, &c.CreemCustomerID, &c.LastCreditGrantDate,
		&c.LastMonthlyCreditGrantDate, &c.MonthlyCreditsGranted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetLatestByUserID returns the most recently created customer for userID.
// Returns pgx.ErrNoRows if none exists.
func (r *CustomerRepo) GetLatestByUserID(ctx context.Context, userID string) (*models.Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, userID))
}

// GetByUserIDForUpdate locks the customer row for update. Call within a transaction.
func (r *CustomerRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*models.Customer, error) {
	return scanCustomer(tx.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE
	`, userID))
}

func (r *CustomerRepo) GetByCreemCustomerID(ctx context.Context, creemCustomerID string) (*models.Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE creem_customer_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, creemCustomerID))
}

// CreateTx inserts a customer inside the given transaction. A concurrent insert
// for the same user_id fails with a unique violation.
func (r *CustomerRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Customer) error {
	return tx.QueryRow(ctx, `
		INSERT INTO customers (id, user_id, email, name, credits, creem_customer_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, c.ID, c.UserID, c.Email, c.Name, c.Credits, c.CreemCustomerID).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// SetCreditsTx sets the balance. Call after GetByUserIDForUpdate in the same tx.
func (r *CustomerRepo) SetCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int) error {
	_, err := tx.Exec(ctx, `
		UPDATE customers SET credits = $2, updated_at = now() WHERE id = $1
	`, id, credits)
	return err
}

// DeductCreditsTx atomically deducts amount if credits >= amount and returns the
// new balance. Returns pgx.ErrNoRows when the balance is too low.
func (r *CustomerRepo) DeductCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE customers SET credits = credits - $1, updated_at = now()
		WHERE id = $2 AND credits >= $1
		RETURNING credits
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// RecordDailyGrantTx resets the balance and stamps last_credit_grant_date.
func (r *CustomerRepo) RecordDailyGrantTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE customers SET credits = $2, last_credit_grant_date = $3, updated_at = now()
		WHERE id = $1
	`, id, credits, at)
	return err
}

// RecordMonthlyGrantTx sets the new balance and the monthly grant bookkeeping.
func (r *CustomerRepo) RecordMonthlyGrantTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits, granted int, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE customers SET credits = $2, monthly_credits_granted = $3, last_monthly_credit_grant_date = $4, updated_at = now()
		WHERE id = $1
	`, id, credits, granted, at)
	return err
}

func (r *CustomerRepo) UpdateCreemCustomerID(ctx context.Context, id uuid.UUID, creemCustomerID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE customers SET creem_customer_id = $2, updated_at = now() WHERE id = $1
	`, id, creemCustomerID)
	return err
}

// ListSubscribed returns every customer holding an active or trialing subscription.
func (r *CustomerRepo) ListSubscribed(ctx context.Context) ([]*models.Customer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (c.id) c.id, c.user_id, c.email, c.name, c.credits, c.creem_customer_id, c.last_credit_grant_date,
			c.last_monthly_credit_grant_date, c.monthly_credits_granted, c.created_at, c.updated_at
		FROM customers c
		JOIN subscriptions s ON s.customer_id = c.id
		WHERE s.status IN ('active', 'trialing')
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
