package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/buzzcutai/backend/internal/metrics"
	"github.com/buzzcutai/backend/internal/models"
)

// Deduct subtracts amount in its own transaction. An insufficient balance
// leaves the customer and history untouched.
func (s *Service) Deduct(ctx context.Context, userID string, amount int, description string, metadata map[string]any) (Result, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx)

	res, err := s.DeductTx(ctx, tx, userID, amount, description, metadata)
	if err != nil || res.Outcome != OutcomeDebited {
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return res, nil
}

// DeductTx runs inside the caller's transaction so a debit can commit together
// with the work it pays for. The caller commits.
func (s *Service) DeductTx(ctx context.Context, tx pgx.Tx, userID string, amount int, description string, metadata map[string]any) (res Result, err error) {
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "error"
		}
		metrics.CreditDebits.WithLabelValues(outcome).Inc()
	}()

	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	c, err := s.Customers.GetByUserIDForUpdate(ctx, tx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{Outcome: OutcomeCustomerNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lock customer: %w", err)
	}
	if c.Credits < amount {
		return Result{Outcome: OutcomeInsufficientCredits, Credits: c.Credits}, nil
	}

	newBalance, err := s.Customers.DeductCreditsTx(ctx, tx, c.ID, amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{Outcome: OutcomeInsufficientCredits, Credits: c.Credits}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("deduct credits: %w", err)
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		CustomerID:   c.ID,
		Amount:       amount,
		Type:         models.CreditTypeSubtract,
		Description:  description,
		Metadata:     metadata,
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		return Result{}, fmt.Errorf("append debit: %w", err)
	}
	return Result{Outcome: OutcomeDebited, Credits: newBalance, Amount: amount}, nil
}

// Refund returns credits to a customer, used when a paid generation fails. A
// non-empty refundKey makes the refund happen at most once for that key.
func (s *Service) Refund(ctx context.Context, userID, refundKey string, amount int, description string, metadata map[string]any) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx)

	c, err := s.Customers.GetByUserIDForUpdate(ctx, tx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{Outcome: OutcomeCustomerNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lock customer: %w", err)
	}
	newBalance := c.Credits + amount
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		CustomerID:   c.ID,
		Amount:       amount,
		Type:         models.CreditTypeAdd,
		Description:  description,
		Metadata:     metadata,
		BalanceAfter: intPtr(newBalance),
	}
	if refundKey != "" {
		entry.GrantKey = strPtr("refund:" + refundKey)
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return Result{Outcome: OutcomeAlreadyGranted, Credits: c.Credits}, nil
		}
		return Result{}, fmt.Errorf("append refund: %w", err)
	}
	if err := s.Customers.SetCreditsTx(ctx, tx, c.ID, newBalance); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeGranted, Credits: newBalance, Amount: amount}, nil
}

// CanGenerate reports whether userID may start a generation. Subscribers always
// may; free users need at least GenerationCost credits.
func (s *Service) CanGenerate(ctx context.Context, userID string) (Eligibility, error) {
	c, err := s.Customers.GetLatestByUserID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Eligibility{}, ErrCustomerNotFound
	}
	if err != nil {
		return Eligibility{}, fmt.Errorf("lookup customer: %w", err)
	}
	sub, err := s.activeSubscription(ctx, c.ID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("load subscription: %w", err)
	}
	return eligibility(c.Credits, sub != nil), nil
}

// ListHistory returns the newest limit entries for userID.
func (s *Service) ListHistory(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	c, err := s.Customers.GetLatestByUserID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	switch {
	case limit <= 0:
		limit = 50
	case limit > 100:
		limit = 100
	}
	return s.History.ListByCustomerID(ctx, c.ID, limit)
}
