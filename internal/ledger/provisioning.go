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

const welcomeGrantKey = "welcome"

// EnsureCustomer returns the customer for userID, creating it with the welcome
// bonus on first use. An existing row is returned unchanged even when email or
// name differ. If a concurrent request wins the insert, its row is returned.
func (s *Service) EnsureCustomer(ctx context.Context, userID, email, name string) (*models.Customer, error) {
	c, err := s.Customers.GetLatestByUserID(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}

	c, err = s.createCustomer(ctx, userID, email, name)
	if err != nil {
		if isUniqueViolation(err) {
			s.log().Info("customer created concurrently, re-reading", "user_id", userID)
			c, err = s.Customers.GetLatestByUserID(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("re-read customer after conflict: %w", err)
			}
			return c, nil
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}
	metrics.CreditGrants.WithLabelValues("welcome", string(OutcomeGranted)).Inc()
	s.log().Info("customer created", "user_id", userID, "customer_id", c.ID)
	return c, nil
}

func (s *Service) createCustomer(ctx context.Context, userID, email, name string) (*models.Customer, error) {
	now := s.now()
	c := &models.Customer{
		ID:              uuid.New(),
		UserID:          userID,
		Email:           email,
		Name:            name,
		Credits:         models.WelcomeBonusCredits,
		CreemCustomerID: fmt.Sprintf("%s_%s_%d", models.FreeBillingIDPrefix, userID, now.UnixMilli()),
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.Customers.CreateTx(ctx, tx, c); err != nil {
		return nil, err
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		CustomerID:   c.ID,
		Amount:       models.WelcomeBonusCredits,
		Type:         models.CreditTypeAdd,
		Description:  models.DescriptionWelcomeBonus,
		GrantKey:     strPtr(welcomeGrantKey),
		BalanceAfter: intPtr(c.Credits),
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
