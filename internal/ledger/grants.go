package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/buzzcutai/backend/internal/billing"
	"github.com/buzzcutai/backend/internal/metrics"
	"github.com/buzzcutai/backend/internal/models"
)

const dateLayout = "2006-01-02"

// Grant keys are unique per customer in credits_history, so a second attempt
// for the same day, billing period or order is rejected by the store.
func dailyGrantKey(day time.Time) string { return "daily:" + day.UTC().Format(dateLayout) }

func monthlyGrantKey(subscriptionID string, periodStart time.Time) string {
	return fmt.Sprintf("monthly:%s:%d", subscriptionID, periodStart.Unix())
}

func orderGrantKey(orderID string) string { return "order:" + orderID }

// GrantDaily resets a free user's balance to the daily allowance once per UTC
// day. Subscribers never receive daily credits.
func (s *Service) GrantDaily(ctx context.Context, userID, email, name string) (res Result, err error) {
	defer func() { observeGrant("daily", res, err) }()

	if _, err := s.EnsureCustomer(ctx, userID, email, name); err != nil {
		return Result{}, err
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

	sub, err := s.activeSubscriptionTx(ctx, tx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load subscription: %w", err)
	}
	if sub != nil {
		return Result{Outcome: OutcomeHasActiveSubscription, Credits: c.Credits}, nil
	}

	now := s.now()
	if c.LastCreditGrantDate != nil && sameDay(*c.LastCreditGrantDate, now) {
		return Result{Outcome: OutcomeAlreadyGranted, Credits: c.Credits}, nil
	}

	entry := &models.CreditTransaction{
		ID:          uuid.New(),
		CustomerID:  c.ID,
		Amount:      models.DailyAllowanceCredits,
		Type:        models.CreditTypeAdd,
		Description: models.DescriptionDailyCredits,
		Metadata: map[string]any{
			"previous_balance": c.Credits,
			"date":             now.Format(dateLayout),
		},
		GrantKey:     strPtr(dailyGrantKey(now)),
		BalanceAfter: intPtr(models.DailyAllowanceCredits),
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return Result{Outcome: OutcomeAlreadyGranted, Credits: c.Credits}, nil
		}
		return Result{}, fmt.Errorf("append daily grant: %w", err)
	}
	if err := s.Customers.RecordDailyGrantTx(ctx, tx, c.ID, models.DailyAllowanceCredits, now); err != nil {
		return Result{}, fmt.Errorf("record daily grant: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	s.log().Info("daily credits granted", "user_id", userID, "previous_balance", c.Credits)
	return Result{Outcome: OutcomeGranted, Credits: models.DailyAllowanceCredits, Amount: models.DailyAllowanceCredits}, nil
}

// GrantMonthly adds the subscription tier's allotment once per billing period.
// A grant on or after the current period start, or earlier the same UTC day,
// counts as already granted.
func (s *Service) GrantMonthly(ctx context.Context, userID, email string) (res Result, err error) {
	defer func() { observeGrant("monthly", res, err) }()

	if _, err := s.EnsureCustomer(ctx, userID, email, ""); err != nil {
		return Result{}, err
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

	sub, err := s.activeSubscriptionTx(ctx, tx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return Result{Outcome: OutcomeNoActiveSubscription, Credits: c.Credits}, nil
	}
	tier := billing.GetTierByProductID(sub.CreemProductID)
	if tier == nil || tier.MonthlyCredits <= 0 {
		s.log().Warn("subscription product has no monthly allotment", "user_id", userID, "product_id", sub.CreemProductID)
		return Result{Outcome: OutcomeUnknownTier, Credits: c.Credits}, nil
	}

	now := s.now()
	periodStart := grantPeriodStart(sub, tier, now)
	if last := c.LastMonthlyCreditGrantDate; last != nil && (!last.Before(periodStart) || sameDay(*last, now)) {
		return Result{Outcome: OutcomeAlreadyGranted, Credits: c.Credits}, nil
	}

	newBalance := c.Credits + tier.MonthlyCredits
	metadata := map[string]any{
		"tier":            tier.Name,
		"product_id":      sub.CreemProductID,
		"subscription_id": sub.CreemSubscriptionID,
		"period_start":    periodStart.Format(time.RFC3339),
	}
	if sub.CurrentPeriodEnd != nil {
		metadata["period_end"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		CustomerID:   c.ID,
		Amount:       tier.MonthlyCredits,
		Type:         models.CreditTypeAdd,
		Description:  models.DescriptionMonthlyCredits,
		Metadata:     metadata,
		GrantKey:     strPtr(monthlyGrantKey(sub.CreemSubscriptionID, periodStart)),
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return Result{Outcome: OutcomeAlreadyGranted, Credits: c.Credits}, nil
		}
		return Result{}, fmt.Errorf("append monthly grant: %w", err)
	}
	if err := s.Customers.RecordMonthlyGrantTx(ctx, tx, c.ID, newBalance, tier.MonthlyCredits, now); err != nil {
		return Result{}, fmt.Errorf("record monthly grant: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	s.log().Info("monthly credits granted", "user_id", userID, "tier", tier.ID, "amount", tier.MonthlyCredits, "balance", newBalance)
	return Result{Outcome: OutcomeGranted, Credits: newBalance, Amount: tier.MonthlyCredits}, nil
}

// GrantMonthlyToAll runs GrantMonthly for every subscribed customer. A failure
// for one customer is counted and the sweep continues.
func (s *Service) GrantMonthlyToAll(ctx context.Context) (BulkResult, error) {
	customers, err := s.Customers.ListSubscribed(ctx)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list subscribed customers: %w", err)
	}
	var out BulkResult
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Processed++
		res, err := s.GrantMonthly(ctx, c.UserID, c.Email)
		if err != nil {
			out.Errors++
			s.log().Error("monthly grant failed", "user_id", c.UserID, "error", err)
			continue
		}
		if res.Outcome == OutcomeGranted {
			out.Granted++
		}
	}
	s.log().Info("monthly grant sweep finished", "processed", out.Processed, "granted", out.Granted, "errors", out.Errors)
	return out, nil
}

// PurchaseCredits adds a credit pack to the balance once per provider order.
func (s *Service) PurchaseCredits(ctx context.Context, userID, email string, pack *billing.CreditPack, orderID string) (res Result, err error) {
	defer func() { observeGrant("purchase", res, err) }()

	if pack == nil || pack.Credits <= 0 || orderID == "" {
		return Result{}, ErrInvalidAmount
	}
	if _, err := s.EnsureCustomer(ctx, userID, email, ""); err != nil {
		return Result{}, err
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

	newBalance := c.Credits + pack.Credits
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		CustomerID:   c.ID,
		Amount:       pack.Credits,
		Type:         models.CreditTypeAdd,
		Description:  models.DescriptionCreditPurchase,
		Metadata:     map[string]any{"pack": pack.Name, "product_id": pack.ProductID},
		CreemOrderID: strPtr(orderID),
		GrantKey:     strPtr(orderGrantKey(orderID)),
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.History.CreateTx(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return Result{Outcome: OutcomeAlreadyGranted, Credits: c.Credits}, nil
		}
		return Result{}, fmt.Errorf("append purchase: %w", err)
	}
	if err := s.Customers.SetCreditsTx(ctx, tx, c.ID, newBalance); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	s.log().Info("credit pack purchased", "user_id", userID, "pack", pack.ID, "order_id", orderID)
	return Result{Outcome: OutcomeGranted, Credits: newBalance, Amount: pack.Credits}, nil
}

// currentPeriodStart falls back to the first of the current UTC month when the
// provider did not report a period start.
func currentPeriodStart(sub *models.Subscription, now time.Time) time.Time {
	if sub.CurrentPeriodStart != nil && !sub.CurrentPeriodStart.IsZero() {
		return sub.CurrentPeriodStart.UTC()
	}
	return startOfMonth(now)
}

// grantPeriodStart is the start of the window one monthly allotment covers.
// For yearly billing it is the latest whole-month step from the billing
// period start that is not after now.
func grantPeriodStart(sub *models.Subscription, tier *billing.SubscriptionTier, now time.Time) time.Time {
	start := currentPeriodStart(sub, now)
	if tier == nil || !tier.BilledYearly() {
		return start
	}
	now = now.UTC()
	months := (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month())
	if months <= 0 {
		return start
	}
	step := addMonths(start, months)
	if step.After(now) {
		step = addMonths(start, months-1)
	}
	return step
}

// addMonths steps t forward by n calendar months, clamping the day to the
// end of a shorter month so Jan 31 steps to Feb 28.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(t.Day(), last)-1)
}

func observeGrant(kind string, res Result, err error) {
	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	metrics.CreditGrants.WithLabelValues(kind, outcome).Inc()
}
