package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/buzzcutai/backend/internal/models"
)

// ErrCustomerNotFound is returned by read paths when the user has no customer row.
var ErrCustomerNotFound = errors.New("customer not found")

// ErrInvalidAmount is returned for non-positive debits and negative balances.
var ErrInvalidAmount = errors.New("invalid credit amount")

// TxBeginner starts a database transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CustomerRepo is the customer storage the ledger needs.
type CustomerRepo interface {
	GetLatestByUserID(ctx context.Context, userID string) (*models.Customer, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*models.Customer, error)
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Customer) error
	SetCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int) error
	DeductCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	RecordDailyGrantTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int, at time.Time) error
	RecordMonthlyGrantTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits, granted int, at time.Time) error
	ListSubscribed(ctx context.Context) ([]*models.Customer, error)
}

// SubscriptionRepo reads subscription state. Both methods return pgx.ErrNoRows
// when the customer has no active or trialing subscription.
type SubscriptionRepo interface {
	GetActiveByCustomerID(ctx context.Context, customerID uuid.UUID) (*models.Subscription, error)
	GetActiveByCustomerIDTx(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) (*models.Subscription, error)
}

// HistoryRepo appends and reads credits_history.
type HistoryRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error
	ListByCustomerID(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
	ListSince(ctx context.Context, customerID uuid.UUID, since time.Time) ([]*models.CreditTransaction, error)
}

// Service applies grants and debits. Every mutation locks the customer row,
// appends exactly one history entry and updates the balance in one transaction.
type Service struct {
	DB            TxBeginner
	Customers     CustomerRepo
	Subscriptions SubscriptionRepo
	History       HistoryRepo
	// Now defaults to time.Now. All dates are evaluated in UTC.
	Now func() time.Time
	Log *slog.Logger
}

func NewService(db TxBeginner, customers CustomerRepo, subs SubscriptionRepo, history HistoryRepo, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{DB: db, Customers: customers, Subscriptions: subs, History: history, Now: time.Now, Log: log}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// activeSubscriptionTx returns nil without error when no subscription is active.
func (s *Service) activeSubscriptionTx(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.Subscriptions.GetActiveByCustomerIDTx(ctx, tx, customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (s *Service) activeSubscription(ctx context.Context, customerID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.Subscriptions.GetActiveByCustomerID(ctx, customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }
