package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/buzzcutai/backend/internal/billing"
	"github.com/buzzcutai/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Daily grant
// ---------------------------------------------------------------------------

func TestGrantDaily_IdempotentWithinDay(t *testing.T) {
	f := newFixture(customer("free-user", 3))
	ctx := context.Background()

	res, err := f.svc.GrantDaily(ctx, "free-user", "", "")
	if err != nil {
		t.Fatalf("GrantDaily: %v", err)
	}
	if res.Outcome != OutcomeGranted || res.Credits != 10 {
		t.Fatalf("first grant: got %+v", res)
	}

	for i := 0; i < 3; i++ {
		f.now = f.now.Add(3 * time.Hour)
		res, err := f.svc.GrantDaily(ctx, "free-user", "", "")
		if err != nil {
			t.Fatalf("GrantDaily: %v", err)
		}
		if res.Outcome != OutcomeAlreadyGranted || res.OK() {
			t.Errorf("repeat grant %d: got %+v", i, res)
		}
	}
	if got := f.customers.get("free-user").Credits; got != 10 {
		t.Errorf("balance: got %d, want 10", got)
	}
	if got := len(f.history.byDescription(models.DescriptionDailyCredits)); got != 1 {
		t.Errorf("daily entries: got %d, want 1", got)
	}
}

func TestGrantDaily_ResetsBalance(t *testing.T) {
	f := newFixture(customer("free-user", 37))

	res, err := f.svc.GrantDaily(context.Background(), "free-user", "", "")
	if err != nil {
		t.Fatalf("GrantDaily: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected grant, got %+v", res)
	}
	if got := f.customers.get("free-user").Credits; got != 10 {
		t.Errorf("balance after reset: got %d, want 10 (not 47)", got)
	}
	entries := f.history.byDescription(models.DescriptionDailyCredits)
	if len(entries) != 1 {
		t.Fatalf("daily entries: got %d, want 1", len(entries))
	}
	if prev, _ := entries[0].Metadata["previous_balance"].(int); prev != 37 {
		t.Errorf("previous_balance metadata: got %v, want 37", entries[0].Metadata["previous_balance"])
	}
}

func TestGrantDaily_NextUTCDayGrantsAgain(t *testing.T) {
	f := newFixture(customer("free-user", 0))
	ctx := context.Background()

	f.now = time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	if res, _ := f.svc.GrantDaily(ctx, "free-user", "", ""); !res.OK() {
		t.Fatalf("first grant: got %+v", res)
	}
	f.now = time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC)
	res, err := f.svc.GrantDaily(ctx, "free-user", "", "")
	if err != nil {
		t.Fatalf("GrantDaily: %v", err)
	}
	if res.Outcome != OutcomeGranted {
		t.Errorf("next day: got %+v", res)
	}
}

func TestGrantDaily_SubscribersExcluded(t *testing.T) {
	c := customer("subscriber", 123)
	f := newFixture(c)
	f.subs.set(c.ID, activeSub("prod_buzzcut_pro_monthly", f.now.AddDate(0, 0, -3)))

	for _, lastGrant := range []*time.Time{nil, ptrTime(f.now.AddDate(0, 0, -10))} {
		f.customers.byUser["subscriber"].LastCreditGrantDate = lastGrant
		res, err := f.svc.GrantDaily(context.Background(), "subscriber", "", "")
		if err != nil {
			t.Fatalf("GrantDaily: %v", err)
		}
		if res.Outcome != OutcomeHasActiveSubscription {
			t.Errorf("got %+v, want has_active_subscription", res)
		}
	}
	if got := f.customers.get("subscriber").Credits; got != 123 {
		t.Errorf("balance should be untouched: got %d", got)
	}
	if n := f.history.count(); n != 0 {
		t.Errorf("no entries expected, got %d", n)
	}
}

func TestGrantDaily_CreatesCustomerFirst(t *testing.T) {
	f := newFixture()

	res, err := f.svc.GrantDaily(context.Background(), "brand-new", "bn@example.com", "")
	if err != nil {
		t.Fatalf("GrantDaily: %v", err)
	}
	if res.Outcome != OutcomeGranted {
		t.Errorf("got %+v", res)
	}
	if n := f.history.count(); n != 2 {
		t.Errorf("expected welcome + daily entries, got %d", n)
	}
}

func TestGrantDaily_StoreErrorLeavesBalance(t *testing.T) {
	f := newFixture(customer("free-user", 2))
	f.history.createErr = errStore

	res, err := f.svc.GrantDaily(context.Background(), "free-user", "", "")
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if res.OK() {
		t.Error("failed grant must not report success")
	}
	if got := f.customers.get("free-user").Credits; got != 2 {
		t.Errorf("balance: got %d, want 2", got)
	}
}

// ---------------------------------------------------------------------------
// Monthly grant
// ---------------------------------------------------------------------------

func TestGrantMonthly_Additive(t *testing.T) {
	c := customer("pro-user", 50)
	f := newFixture(c)
	f.subs.set(c.ID, activeSub("prod_buzzcut_pro_monthly", f.now.AddDate(0, 0, -1)))

	res, err := f.svc.GrantMonthly(context.Background(), "pro-user", "")
	if err != nil {
		t.Fatalf("GrantMonthly: %v", err)
	}
	if res.Outcome != OutcomeGranted || res.Amount != 300 || res.Credits != 350 {
		t.Fatalf("got %+v", res)
	}
	got := f.customers.get("pro-user")
	if got.Credits != 350 {
		t.Errorf("balance: got %d, want 350", got.Credits)
	}
	if got.MonthlyCreditsGranted != 300 {
		t.Errorf("monthly_credits_granted: got %d, want 300", got.MonthlyCreditsGranted)
	}
	entries := f.history.byDescription(models.DescriptionMonthlyCredits)
	if len(entries) != 1 || entries[0].Amount != 300 || entries[0].Type != models.CreditTypeAdd {
		t.Fatalf("monthly entries: %+v", entries)
	}
	if entries[0].Metadata["tier"] != "Pro" {
		t.Errorf("tier metadata: got %v", entries[0].Metadata["tier"])
	}
	if _, ok := entries[0].Metadata["period_end"]; !ok {
		t.Error("metadata should carry the period end")
	}
}

func TestGrantMonthly_RetriedWebhookSameDay(t *testing.T) {
	c := customer("pro-user", 0)
	f := newFixture(c)
	f.subs.set(c.ID, activeSub("prod_buzzcut_pro_monthly", f.now))
	ctx := context.Background()

	if res, _ := f.svc.GrantMonthly(ctx, "pro-user", ""); res.Credits != 300 {
		t.Fatalf("first grant: got %+v", res)
	}
	f.now = f.now.Add(2 * time.Hour)
	res, err := f.svc.GrantMonthly(ctx, "pro-user", "")
	if err != nil {
		t.Fatalf("GrantMonthly: %v", err)
	}
	if res.Outcome != OutcomeAlreadyGranted {
		t.Errorf("retry: got %+v", res)
	}
	if got := f.customers.get("pro-user").Credits; got != 300 {
		t.Errorf("balance: got %d, want 300", got)
	}
}

func TestGrantMonthly_NewPeriodGrantsAgain(t *testing.T) {
	c := customer("pro-user", 0)
	f := newFixture(c)
	sub := activeSub("prod_buzzcut_pro_monthly", f.now)
	f.subs.set(c.ID, sub)
	ctx := context.Background()

	if res, _ := f.svc.GrantMonthly(ctx, "pro-user", ""); !res.OK() {
		t.Fatalf("first grant: got %+v", res)
	}

	// A week later the same period is still covered.
	f.now = f.now.AddDate(0, 0, 7)
	if res, _ := f.svc.GrantMonthly(ctx, "pro-user", ""); res.Outcome != OutcomeAlreadyGranted {
		t.Fatalf("same period: got %+v", res)
	}

	// Renewal moves the period start.
	f.now = f.now.AddDate(0, 1, 0)
	next := activeSub("prod_buzzcut_pro_monthly", f.now.Add(-time.Hour))
	next.CreemSubscriptionID = sub.CreemSubscriptionID
	f.subs.set(c.ID, next)
	res, err := f.svc.GrantMonthly(ctx, "pro-user", "")
	if err != nil {
		t.Fatalf("GrantMonthly: %v", err)
	}
	if res.Outcome != OutcomeGranted || res.Credits != 600 {
		t.Errorf("renewal: got %+v", res)
	}
}

func TestGrantMonthly_Ineligible(t *testing.T) {
	tests := []struct {
		name string
		sub  *models.Subscription
		want Outcome
	}{
		{"no subscription", nil, OutcomeNoActiveSubscription},
		{"canceled", func() *models.Subscription {
			s := activeSub("prod_buzzcut_pro_monthly", time.Now())
			s.Status = models.SubscriptionStatusCanceled
			return s
		}(), OutcomeNoActiveSubscription},
		{"unknown product", activeSub("prod_mystery", time.Now()), OutcomeUnknownTier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := customer("u", 20)
			f := newFixture(c)
			if tt.sub != nil {
				f.subs.set(c.ID, tt.sub)
			}
			res, err := f.svc.GrantMonthly(context.Background(), "u", "")
			if err != nil {
				t.Fatalf("GrantMonthly: %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("got %s, want %s", res.Outcome, tt.want)
			}
			if got := f.customers.get("u").Credits; got != 20 {
				t.Errorf("balance should be untouched: got %d", got)
			}
		})
	}
}

func TestGrantMonthly_TrialingCounts(t *testing.T) {
	c := customer("trial-user", 0)
	f := newFixture(c)
	sub := activeSub("prod_buzzcut_ultimate_monthly", f.now)
	sub.Status = models.SubscriptionStatusTrialing
	f.subs.set(c.ID, sub)

	res, err := f.svc.GrantMonthly(context.Background(), "trial-user", "")
	if err != nil {
		t.Fatalf("GrantMonthly: %v", err)
	}
	if res.Outcome != OutcomeGranted || res.Amount != 1000 {
		t.Errorf("got %+v", res)
	}
}

func TestGrantMonthly_MissingPeriodStartUsesMonth(t *testing.T) {
	c := customer("pro-user", 0)
	lastMonth := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	thisMonth := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	f := newFixture(c)
	sub := activeSub("prod_buzzcut_pro_monthly", f.now)
	sub.CurrentPeriodStart = nil
	f.subs.set(c.ID, sub)

	f.customers.byUser["pro-user"].LastMonthlyCreditGrantDate = &lastMonth
	if res, _ := f.svc.GrantMonthly(context.Background(), "pro-user", ""); res.Outcome != OutcomeGranted {
		t.Errorf("grant last month should not block: got %+v", res)
	}

	f.customers.byUser["pro-user"].LastMonthlyCreditGrantDate = &thisMonth
	if res, _ := f.svc.GrantMonthly(context.Background(), "pro-user", ""); res.Outcome != OutcomeAlreadyGranted {
		t.Errorf("grant this month should block: got %+v", res)
	}
}

func TestGrantMonthly_YearlyBillingGrantsEachMonth(t *testing.T) {
	c := customer("yearly-user", 0)
	f := newFixture(c)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := activeSub("prod_buzzcut_pro_yearly", start)
	end := start.AddDate(1, 0, 0)
	sub.CurrentPeriodEnd = &end
	f.subs.set(c.ID, sub)
	ctx := context.Background()

	for month := 0; month < 4; month++ {
		f.now = start.AddDate(0, month, 0).Add(10 * time.Hour)
		res, err := f.svc.GrantMonthly(ctx, "yearly-user", "")
		if err != nil {
			t.Fatalf("%s: GrantMonthly: %v", f.now.Format(time.DateOnly), err)
		}
		if res.Outcome != OutcomeGranted {
			t.Fatalf("%s: got %+v, want granted", f.now.Format(time.DateOnly), res)
		}
		// The hourly sweep in the same month must not grant again.
		if _, err := f.svc.GrantMonthlyToAll(ctx); err != nil {
			t.Fatalf("GrantMonthlyToAll: %v", err)
		}
	}

	if got := f.customers.get("yearly-user").Credits; got != 1200 {
		t.Errorf("balance = %d, want 1200", got)
	}
	keys := map[string]bool{}
	for _, e := range f.history.entries {
		if e.GrantKey != nil {
			keys[*e.GrantKey] = true
		}
	}
	if len(keys) != 4 {
		t.Errorf("distinct grant keys = %d, want 4", len(keys))
	}
}

func TestGrantPeriodStart(t *testing.T) {
	yearly := &billing.SubscriptionTier{MonthlyCredits: 300, BillingInterval: billing.IntervalYear}
	monthly := &billing.SubscriptionTier{MonthlyCredits: 300, BillingInterval: billing.IntervalMonth}
	at := func(y int, m time.Month, d, h int) time.Time { return time.Date(y, m, d, h, 0, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		tier  *billing.SubscriptionTier
		start time.Time
		now   time.Time
		want  time.Time
	}{
		{"monthly keeps billing start", monthly, at(2026, 1, 10, 0), at(2026, 3, 15, 0), at(2026, 1, 10, 0)},
		{"yearly first month", yearly, at(2026, 1, 10, 0), at(2026, 1, 20, 0), at(2026, 1, 10, 0)},
		{"yearly before the step day", yearly, at(2026, 1, 10, 0), at(2026, 3, 5, 0), at(2026, 2, 10, 0)},
		{"yearly on the step day", yearly, at(2026, 1, 10, 6), at(2026, 3, 10, 6), at(2026, 3, 10, 6)},
		{"yearly across new year", yearly, at(2025, 11, 1, 0), at(2026, 2, 3, 0), at(2026, 2, 1, 0)},
		{"yearly clamps short month", yearly, at(2026, 1, 31, 0), at(2026, 2, 28, 12), at(2026, 2, 28, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := activeSub("prod_any", tt.start)
			if got := grantPeriodStart(sub, tt.tier, tt.now); !got.Equal(tt.want) {
				t.Errorf("grantPeriodStart = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGrantMonthly_ConcurrentDeliveriesGrantOnce(t *testing.T) {
	c := customer("pro-user", 50)
	f := newFixture(c)
	f.subs.set(c.ID, activeSub("prod_buzzcut_pro_monthly", f.now))
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.GrantMonthly(ctx, "pro-user", "")
			if err != nil {
				t.Errorf("GrantMonthly: %v", err)
				return
			}
			if res.Outcome == OutcomeGranted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted: got %d, want exactly 1", granted)
	}
	if got := f.customers.get("pro-user").Credits; got != 350 {
		t.Errorf("balance: got %d, want 350", got)
	}
	if got := len(f.history.byDescription(models.DescriptionMonthlyCredits)); got != 1 {
		t.Errorf("monthly entries: got %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Bulk grant
// ---------------------------------------------------------------------------

func TestGrantMonthlyToAll(t *testing.T) {
	a, b, d := customer("a", 0), customer("b", 0), customer("d", 0)
	f := newFixture(a, b, d)
	f.subs.set(a.ID, activeSub("prod_buzzcut_pro_monthly", f.now))
	f.subs.set(b.ID, activeSub("prod_buzzcut_ultimate_monthly", f.now))
	f.subs.set(d.ID, activeSub("prod_unknown", f.now))

	res, err := f.svc.GrantMonthlyToAll(context.Background())
	if err != nil {
		t.Fatalf("GrantMonthlyToAll: %v", err)
	}
	if res.Processed != 3 || res.Granted != 2 || res.Errors != 0 {
		t.Errorf("got %+v, want processed=3 granted=2 errors=0", res)
	}

	again, err := f.svc.GrantMonthlyToAll(context.Background())
	if err != nil {
		t.Fatalf("GrantMonthlyToAll: %v", err)
	}
	if again.Granted != 0 {
		t.Errorf("second sweep should grant nothing, got %+v", again)
	}
}

func TestGrantMonthlyToAll_CountsErrors(t *testing.T) {
	a, b := customer("a", 0), customer("b", 0)
	f := newFixture(a, b)
	f.subs.set(a.ID, activeSub("prod_buzzcut_pro_monthly", f.now))
	f.subs.set(b.ID, activeSub("prod_buzzcut_pro_monthly", f.now))
	f.history.createErr = errStore

	res, err := f.svc.GrantMonthlyToAll(context.Background())
	if err != nil {
		t.Fatalf("a per-customer failure should not abort the sweep: %v", err)
	}
	if res.Processed != 2 || res.Errors != 2 || res.Granted != 0 {
		t.Errorf("got %+v", res)
	}
}

// ---------------------------------------------------------------------------
// Purchases
// ---------------------------------------------------------------------------

func TestPurchaseCredits_OncePerOrder(t *testing.T) {
	f := newFixture(customer("buyer", 4))
	pack := billingPack(t, "prod_buzzcut_pack_150")
	ctx := context.Background()

	res, err := f.svc.PurchaseCredits(ctx, "buyer", "", pack, "ord_1")
	if err != nil {
		t.Fatalf("PurchaseCredits: %v", err)
	}
	if res.Outcome != OutcomeGranted || res.Credits != 154 {
		t.Fatalf("got %+v", res)
	}

	res, err = f.svc.PurchaseCredits(ctx, "buyer", "", pack, "ord_1")
	if err != nil {
		t.Fatalf("PurchaseCredits: %v", err)
	}
	if res.Outcome != OutcomeAlreadyGranted {
		t.Errorf("duplicate order: got %+v", res)
	}
	if got := f.customers.get("buyer").Credits; got != 154 {
		t.Errorf("balance: got %d, want 154", got)
	}

	entries := f.history.byDescription(models.DescriptionCreditPurchase)
	if len(entries) != 1 || entries[0].CreemOrderID == nil || *entries[0].CreemOrderID != "ord_1" {
		t.Errorf("purchase entries: %+v", entries)
	}
}

func TestPurchaseCredits_RejectsMissingOrder(t *testing.T) {
	f := newFixture(customer("buyer", 0))
	if _, err := f.svc.PurchaseCredits(context.Background(), "buyer", "", billingPack(t, "prod_buzzcut_pack_50"), ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
