package repositories

import (
	"context"
	"time"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/models"
)

type EmailFactorRepository struct {
	q database.Querier
}

func NewEmailFactorRepository(db *database.DB) *EmailFactorRepository {
	return &EmailFactorRepository{q: db.Pool}
}

func (r *EmailFactorRepository) Get(ctx context.Context, userID string) (*models.EmailFactor, error) {
	query := `SELECT user_id, email, enabled, created_at FROM email_factors WHERE user_id = $1`

	var factor models.EmailFactor
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&factor.UserID, &factor.Email, &factor.Enabled, &factor.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &factor, nil
}

func (r *EmailFactorRepository) Create(ctx context.Context, factor *models.EmailFactor) error {
	factor.CreatedAt = time.Now()

	query := `
		INSERT INTO email_factors (user_id, email, enabled, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.q.Exec(ctx, query, factor.UserID, factor.Email, factor.Enabled, factor.CreatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *EmailFactorRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM email_factors WHERE user_id = $1`

	result, err := r.q.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
