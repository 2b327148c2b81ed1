package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/buzzcutai/backend/internal/billing"
	"github.com/buzzcutai/backend/internal/models"
)

const reportRecentEntries = 50

// Report is an operator view of a customer's ledger state.
type Report struct {
	Customer     *models.Customer            `json:"customer"`
	Subscription *models.Subscription        `json:"subscription,omitempty"`
	Tier         *billing.SubscriptionTier   `json:"tier,omitempty"`
	Recent       []*models.CreditTransaction `json:"recent"`
	// Drift is credits minus the balance_after of the newest entry. Non-zero
	// means the balance was changed outside the ledger.
	Drift                  int       `json:"drift"`
	PeriodStart            time.Time `json:"period_start"`
	MonthlyGrantsInPeriod  int       `json:"monthly_grants_in_period"`
	MonthlyCreditsInPeriod int       `json:"monthly_credits_in_period"`
	// ExpectedBalance is the welcome bonus (if received) plus one allotment.
	ExpectedBalance int `json:"expected_balance"`
}

// Inspect gathers everything needed to diagnose a customer's balance.
func (s *Service) Inspect(ctx context.Context, userID string) (*Report, error) {
	c, err := s.Customers.GetLatestByUserID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	sub, err := s.activeSubscription(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	all, err := s.History.ListSince(ctx, c.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	now := s.now()
	r := &Report{Customer: c, Subscription: sub, PeriodStart: startOfMonth(now)}
	if sub != nil {
		r.Tier = billing.GetTierByProductID(sub.CreemProductID)
		r.PeriodStart = grantPeriodStart(sub, r.Tier, now)
	}

	for i := len(all) - 1; i >= 0 && len(r.Recent) < reportRecentEntries; i-- {
		r.Recent = append(r.Recent, all[i])
	}
	if len(r.Recent) > 0 && r.Recent[0].BalanceAfter != nil {
		r.Drift = c.Credits - *r.Recent[0].BalanceAfter
	}

	for _, e := range all {
		if e.GrantKey != nil && *e.GrantKey == welcomeGrantKey {
			r.ExpectedBalance += e.Amount
		}
	}
	if r.Tier != nil {
		r.ExpectedBalance += r.Tier.MonthlyCredits
	}
	r.MonthlyGrantsInPeriod, r.MonthlyCreditsInPeriod = monthlyGrantsSince(all, r.PeriodStart)
	return r, nil
}

// FixDuplicateMonthly removes monthly credits granted in the current period
// beyond one allotment. The removal never takes the balance below zero.
func (s *Service) FixDuplicateMonthly(ctx context.Context, userID string) (Result, error) {
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
	sub, err := s.activeSubscriptionTx(ctx, tx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return Result{Outcome: OutcomeNoActiveSubscription, Credits: c.Credits}, nil
	}
	tier := billing.GetTierByProductID(sub.CreemProductID)
	if tier == nil {
		return Result{Outcome: OutcomeUnknownTier, Credits: c.Credits}, nil
	}

	periodStart := grantPeriodStart(sub, tier, s.now())
	entries, err := s.History.ListSince(ctx, c.ID, periodStart)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}
	grants, total := monthlyGrantsSince(entries, periodStart)
	excess := min(total-tier.MonthlyCredits, c.Credits)
	if excess <= 0 {
		return Result{Outcome: OutcomeUnchanged, Credits: c.Credits}, nil
	}

	newBalance := c.Credits - excess
	entry := &models.CreditTransaction{
		ID:          uuid.New(),
		CustomerID:  c.ID,
		Amount:      excess,
		Type:        models.CreditTypeSubtract,
		Description: models.DescriptionDuplicateFix,
		Metadata: map[string]any{
			"monthly_grants": grants,
			"monthly_total":  total,
			"allotment":      tier.MonthlyCredits,
			"period_start":   periodStart.Format(time.RFC3339),
		},
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		return Result{}, fmt.Errorf("append correction: %w", err)
	}
	if err := s.Customers.SetCreditsTx(ctx, tx, c.ID, newBalance); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	s.log().Warn("removed duplicate monthly credits", "user_id", userID, "removed", excess, "grants", grants)
	return Result{Outcome: OutcomeAdjusted, Credits: newBalance, Amount: excess}, nil
}

// ForceBalance sets the balance to credits and records the difference as a
// history entry so the ledger stays consistent with the customer row.
func (s *Service) ForceBalance(ctx context.Context, userID string, credits int, reason string) (Result, error) {
	if credits < 0 {
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
	delta := credits - c.Credits
	if delta == 0 {
		return Result{Outcome: OutcomeUnchanged, Credits: c.Credits}, nil
	}

	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		CustomerID:   c.ID,
		Amount:       delta,
		Type:         models.CreditTypeAdd,
		Description:  models.DescriptionAdjustment,
		Metadata:     map[string]any{"reason": reason, "previous_balance": c.Credits},
		BalanceAfter: intPtr(credits),
	}
	if delta < 0 {
		entry.Amount = -delta
		entry.Type = models.CreditTypeSubtract
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		return Result{}, fmt.Errorf("append adjustment: %w", err)
	}
	if err := s.Customers.SetCreditsTx(ctx, tx, c.ID, credits); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	s.log().Warn("balance force-set", "user_id", userID, "previous", c.Credits, "credits", credits, "reason", reason)
	return Result{Outcome: OutcomeAdjusted, Credits: credits, Amount: entry.Amount}, nil
}

// monthlyGrantsSince counts monthly grants created at or after since and
// returns their total net of earlier duplicate corrections.
func monthlyGrantsSince(entries []*models.CreditTransaction, since time.Time) (count, total int) {
	for _, e := range entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		switch {
		case e.Type == models.CreditTypeAdd && e.Description == models.DescriptionMonthlyCredits:
			count++
			total += e.Amount
		case e.Type == models.CreditTypeSubtract && e.Description == models.DescriptionDuplicateFix:
			total -= e.Amount
		}
	}
	return count, total
}
