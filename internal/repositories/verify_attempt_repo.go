package repositories

import (
	"context"
	"time"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/models"
)

type VerifyAttemptRepository struct {
	q database.Querier
}

func NewVerifyAttemptRepository(db *database.DB) *VerifyAttemptRepository {
	return &VerifyAttemptRepository{q: db.Pool}
}

func (r *VerifyAttemptRepository) Get(ctx context.Context, userID, kind string) (*models.VerifyAttempt, error) {
	query := `
		SELECT user_id, kind, attempts, last_attempt_at
		FROM verify_attempts WHERE user_id = $1 AND kind = $2
	`

	var attempt models.VerifyAttempt
	err := r.q.QueryRow(ctx, query, userID, kind).Scan(
		&attempt.UserID, &attempt.Kind, &attempt.Attempts, &attempt.LastAttemptAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &attempt, nil
}

func (r *VerifyAttemptRepository) Upsert(ctx context.Context, attempt *models.VerifyAttempt) error {
	query := `
		INSERT INTO verify_attempts (user_id, kind, attempts, last_attempt_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, kind) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			last_attempt_at = EXCLUDED.last_attempt_at
	`

	_, err := r.q.Exec(ctx, query, attempt.UserID, attempt.Kind, attempt.Attempts, attempt.LastAttemptAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *VerifyAttemptRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM verify_attempts WHERE last_attempt_at < $1`

	result, err := r.q.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
