package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/buzzcutai/backend/internal/execution"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/models"
)

// ErrInsufficientCredits is returned when a free user cannot pay for a generation.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrNotFound is returned for unknown generations and generations owned by someone else.
var ErrNotFound = errors.New("generation not found")

const defaultStyle = "classic"

// Repo is the generation storage the service needs.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.Generation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	ListByUserID(ctx context.Context, userID string, limit int) ([]*models.Generation, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, outputURL string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// CreditLedger is the debit side of the ledger used to pay for generations.
type CreditLedger interface {
	DeductTx(ctx context.Context, tx pgx.Tx, userID string, amount int, description string, metadata map[string]any) (ledger.Result, error)
	Refund(ctx context.Context, userID, refundKey string, amount int, description string, metadata map[string]any) (ledger.Result, error)
}

type Service interface {
	CreateGeneration(ctx context.Context, userID string, subscribed bool, inputImageURL, style string) (*models.Generation, error)
	GetGeneration(ctx context.Context, userID string, id uuid.UUID) (*models.Generation, error)
	ListGenerations(ctx context.Context, userID string) ([]*models.Generation, error)
}

// InsertGenerateTxFunc enqueues a GenerateImage job within the given transaction. Provided by main using river.Client.InsertTx.
type InsertGenerateTxFunc func(ctx context.Context, tx pgx.Tx, args execution.GenerateImageArgs) error

type service struct {
	repo           Repo
	ledger         CreditLedger
	insertGenerate InsertGenerateTxFunc
	log            *slog.Logger
}

// NewService creates a generations service. insertGenerate is typically a closure over river.Client.InsertTx.
// Returns *service so it can be used as execution.GenerationService for the River worker.
func NewService(repo Repo, l CreditLedger, insertGenerate InsertGenerateTxFunc, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, ledger: l, insertGenerate: insertGenerate, log: log}
}

var _ Service = (*service)(nil)
var _ execution.GenerationService = (*service)(nil)

// CreateGeneration charges GenerationCost, stores the generation and enqueues
// the provider call in one transaction. Subscribers whose balance is too low
// still get their generation, uncharged.
func (s *service) CreateGeneration(ctx context.Context, userID string, subscribed bool, inputImageURL, style string) (*models.Generation, error) {
	if style == "" {
		style = defaultStyle
	}
	g := &models.Generation{
		ID:            uuid.New(),
		UserID:        userID,
		Status:        models.GenerationStatusPending,
		InputImageURL: inputImageURL,
		Style:         style,
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res, err := s.ledger.DeductTx(ctx, tx, userID, models.GenerationCost, models.DescriptionGeneration,
		map[string]any{"generation_id": g.ID.String(), "style": style})
	if err != nil {
		return nil, fmt.Errorf("charge generation: %w", err)
	}
	switch res.Outcome {
	case ledger.OutcomeDebited:
		g.CreditsCharged = res.Amount
	case ledger.OutcomeInsufficientCredits:
		if !subscribed {
			return nil, ErrInsufficientCredits
		}
	case ledger.OutcomeCustomerNotFound:
		return nil, ledger.ErrCustomerNotFound
	default:
		return nil, fmt.Errorf("charge generation: unexpected outcome %q", res.Outcome)
	}

	if err := s.repo.CreateTx(ctx, tx, g); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	if err := s.insertGenerate(ctx, tx, execution.GenerateImageArgs{
		GenerationID:  g.ID,
		InputImageURL: g.InputImageURL,
		Style:         g.Style,
	}); err != nil {
		return nil, fmt.Errorf("enqueue generation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("generation queued", "user_id", userID, "generation_id", g.ID, "credits_charged", g.CreditsCharged)
	return g, nil
}

func (s *service) GetGeneration(ctx context.Context, userID string, id uuid.UUID) (*models.Generation, error) {
	g, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if g.UserID != userID {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *service) ListGenerations(ctx context.Context, userID string) ([]*models.Generation, error) {
	return s.repo.ListByUserID(ctx, userID, 50)
}

// MarkProcessing implements execution.GenerationService.
func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkProcessing(ctx, id)
}

// MarkCompleted implements execution.GenerationService.
func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, outputURL string) error {
	return s.repo.MarkCompleted(ctx, id, outputURL)
}

// MarkFailed implements execution.GenerationService. Charged credits are
// refunded before the row is marked failed; the refund is keyed by the
// generation id so a retried job cannot refund twice.
func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if g.Status == models.GenerationStatusCompleted {
		return nil
	}
	if g.CreditsCharged > 0 {
		if _, err := s.ledger.Refund(ctx, g.UserID, g.ID.String(), g.CreditsCharged, models.DescriptionRefund,
			map[string]any{"generation_id": g.ID.String(), "reason": reason}); err != nil {
			return fmt.Errorf("refund generation: %w", err)
		}
	}
	s.log.Warn("generation failed", "generation_id", id, "user_id", g.UserID, "reason", reason)
	return s.repo.MarkFailed(ctx, id, reason)
}
