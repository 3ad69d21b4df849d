package repositories

import (
	"context"
	"time"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/models"
)

type VerificationCodeRepository struct {
	q database.Querier
}

func NewVerificationCodeRepository(db *database.DB) *VerificationCodeRepository {
	return &VerificationCodeRepository{q: db.Pool}
}

func (r *VerificationCodeRepository) Get(ctx context.Context, purpose, accountRef string) (*models.VerificationCode, error) {
	query := `
		SELECT purpose, account_ref, code, expires_at, attempts_today, last_request_at
		FROM verification_codes WHERE purpose = $1 AND account_ref = $2
	`

	var code models.VerificationCode
	err := r.q.QueryRow(ctx, query, purpose, accountRef).Scan(
		&code.Purpose, &code.AccountRef, &code.Code,
		&code.ExpiresAt, &code.AttemptsToday, &code.LastRequestAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &code, nil
}

// Upsert replaces the outstanding code for the (purpose, account_ref) key.
// One row per key keeps only the latest code redeemable.
func (r *VerificationCodeRepository) Upsert(ctx context.Context, code *models.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (purpose, account_ref, code, expires_at, attempts_today, last_request_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (purpose, account_ref) DO UPDATE SET
			code = EXCLUDED.code,
			expires_at = EXCLUDED.expires_at,
			attempts_today = EXCLUDED.attempts_today,
			last_request_at = EXCLUDED.last_request_at
	`

	_, err := r.q.Exec(ctx, query,
		code.Purpose, code.AccountRef, code.Code,
		code.ExpiresAt, code.AttemptsToday, code.LastRequestAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *VerificationCodeRepository) Delete(ctx context.Context, purpose, accountRef string) error {
	query := `DELETE FROM verification_codes WHERE purpose = $1 AND account_ref = $2`

	result, err := r.q.Exec(ctx, query, purpose, accountRef)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *VerificationCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM verification_codes WHERE expires_at < $1`

	result, err := r.q.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
