package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buzzcutai/backend/internal/models"
)

const generationColumns = `id, customer_id, user_id, status, input_image_url, style, output_image_url, credits_charged, error, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	err := row.Scan(&g.ID, &g.CustomerID, &g.UserID, &g.Status, &g.InputImageURL, &g.Style, &g.OutputImageURL,
		&g.CreditsCharged, &g.Error, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateTx inserts a pending generation for the user's customer row inside tx.
// Returns pgx.ErrNoRows if the user has no customer.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, g *models.Generation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO generations (id, customer_id, user_id, status, input_image_url, style, credits_charged)
		SELECT $1, c.id, c.user_id, $3, $4, $5, $6
		FROM customers c WHERE c.user_id = $2
		ORDER BY c.created_at DESC LIMIT 1
		RETURNING customer_id, created_at, updated_at
	`, g.ID, g.UserID, g.Status, g.InputImageURL, g.Style, g.CreditsCharged).Scan(&g.CustomerID, &g.CreatedAt, &g.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(r.pool.QueryRow(ctx, `
		SELECT `+generationColumns+` FROM generations WHERE id = $1
	`, id))
}

func (r *Repository) ListByUserID(ctx context.Context, userID string, limit int) ([]*models.Generation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM generations WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generations SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id)
	return err
}

func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, outputURL string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generations SET status = 'completed', output_image_url = $2, error = NULL, updated_at = now()
		WHERE id = $1
	`, id, outputURL)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generations SET status = 'failed', error = $2, updated_at = now()
		WHERE id = $1 AND status <> 'completed'
	`, id, reason)
	return err
}
