package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/buzzcutai/backend/internal/models"
)

// ---------------------------------------------------------------------------
// noopTx satisfies pgx.Tx; the repos below ignore it.
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockDB struct{}

func (mockDB) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func uniqueViolation() error { return &pgconn.PgError{Code: "23505", Message: "duplicate key value"} }

// ---------------------------------------------------------------------------
// In-memory CustomerRepo keyed by user id. CreateTx enforces the unique
// user_id index.
// ---------------------------------------------------------------------------

type mockCustomers struct {
	mu        sync.Mutex
	byUser    map[string]*models.Customer
	creates   int
	lookupErr error
}

func newMockCustomers(cs ...*models.Customer) *mockCustomers {
	m := &mockCustomers{byUser: make(map[string]*models.Customer)}
	for _, c := range cs {
		cp := *c
		m.byUser[c.UserID] = &cp
	}
	return m
}

func (m *mockCustomers) GetLatestByUserID(_ context.Context, userID string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	c, ok := m.byUser[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *mockCustomers) GetByUserIDForUpdate(ctx context.Context, _ pgx.Tx, userID string) (*models.Customer, error) {
	return m.GetLatestByUserID(ctx, userID)
}

func (m *mockCustomers) CreateTx(_ context.Context, _ pgx.Tx, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[c.UserID]; ok {
		return uniqueViolation()
	}
	m.creates++
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.byUser[c.UserID] = &cp
	return nil
}

func (m *mockCustomers) byID(id uuid.UUID) *models.Customer {
	for _, c := range m.byUser {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *mockCustomers) SetCreditsTx(_ context.Context, _ pgx.Tx, id uuid.UUID, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(id)
	if c == nil {
		return pgx.ErrNoRows
	}
	c.Credits = credits
	return nil
}

func (m *mockCustomers) DeductCreditsTx(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(id)
	if c == nil || c.Credits < amount {
		return 0, pgx.ErrNoRows
	}
	c.Credits -= amount
	return c.Credits, nil
}

func (m *mockCustomers) RecordDailyGrantTx(_ context.Context, _ pgx.Tx, id uuid.UUID, credits int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(id)
	if c == nil {
		return pgx.ErrNoRows
	}
	c.Credits = credits
	c.LastCreditGrantDate = &at
	return nil
}

func (m *mockCustomers) RecordMonthlyGrantTx(_ context.Context, _ pgx.Tx, id uuid.UUID, credits, granted int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(id)
	if c == nil {
		return pgx.ErrNoRows
	}
	c.Credits = credits
	c.MonthlyCreditsGranted = granted
	c.LastMonthlyCreditGrantDate = &at
	return nil
}

func (m *mockCustomers) ListSubscribed(context.Context) ([]*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Customer
	for _, c := range m.byUser {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockCustomers) get(userID string) *models.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// ---

type mockSubscriptions struct {
	mu    sync.Mutex
	byCus map[uuid.UUID]*models.Subscription
}

func newMockSubscriptions() *mockSubscriptions {
	return &mockSubscriptions{byCus: make(map[uuid.UUID]*models.Subscription)}
}

func (m *mockSubscriptions) set(customerID uuid.UUID, s *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.CustomerID = customerID
	m.byCus[customerID] = s
}

func (m *mockSubscriptions) GetActiveByCustomerID(_ context.Context, customerID uuid.UUID) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byCus[customerID]
	if !ok || !models.IsActiveStatus(s.Status) {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *mockSubscriptions) GetActiveByCustomerIDTx(ctx context.Context, _ pgx.Tx, customerID uuid.UUID) (*models.Subscription, error) {
	return m.GetActiveByCustomerID(ctx, customerID)
}

// ---

type mockHistory struct {
	mu        sync.Mutex
	entries   []*models.CreditTransaction
	now       func() time.Time
	createErr error
}

func (m *mockHistory) CreateTx(_ context.Context, _ pgx.Tx, c *models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if c.GrantKey != nil {
		for _, e := range m.entries {
			if e.CustomerID == c.CustomerID && e.GrantKey != nil && *e.GrantKey == *c.GrantKey {
				return uniqueViolation()
			}
		}
	}
	if m.now != nil {
		c.CreatedAt = m.now()
	} else {
		c.CreatedAt = time.Now()
	}
	cp := *c
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockHistory) ListByCustomerID(_ context.Context, customerID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].CustomerID == customerID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockHistory) ListSince(_ context.Context, customerID uuid.UUID, since time.Time) ([]*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for _, e := range m.entries {
		if e.CustomerID == customerID && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockHistory) byDescription(description string) []*models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for _, e := range m.entries {
		if e.Description == description {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

var errStore = errors.New("connection reset")

type fixture struct {
	svc       *Service
	customers *mockCustomers
	subs      *mockSubscriptions
	history   *mockHistory
	now       time.Time
}

func newFixture(cs ...*models.Customer) *fixture {
	f := &fixture{
		customers: newMockCustomers(cs...),
		subs:      newMockSubscriptions(),
		now:       time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}
	f.history = &mockHistory{now: func() time.Time { return f.now }}
	f.svc = NewService(mockDB{}, f.customers, f.subs, f.history, nil)
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func customer(userID string, credits int) *models.Customer {
	return &models.Customer{ID: uuid.New(), UserID: userID, Email: userID + "@example.com", Credits: credits}
}

func activeSub(productID string, periodStart time.Time) *models.Subscription {
	end := periodStart.AddDate(0, 1, 0)
	return &models.Subscription{
		ID:                  uuid.New(),
		CreemSubscriptionID: "sub_" + uuid.NewString()[:8],
		CreemProductID:      productID,
		Status:              models.SubscriptionStatusActive,
		CurrentPeriodStart:  &periodStart,
		CurrentPeriodEnd:    &end,
	}
}
