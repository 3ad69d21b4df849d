package repositories

import (
	"context"
	"time"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/models"
)

type TotpFactorRepository struct {
	q database.Querier
}

func NewTotpFactorRepository(db *database.DB) *TotpFactorRepository {
	return &TotpFactorRepository{q: db.Pool}
}

func scanTotpFactorRow(scanner rowScanner) (*models.TotpFactor, error) {
	var factor models.TotpFactor
	var recoveryHash *string

	err := scanner.Scan(
		&factor.UserID, &factor.SecretEncrypted, &factor.SecretNonce,
		&factor.Enabled, &factor.BackupCodes, &recoveryHash,
		&factor.CreatedAt, &factor.ConfirmedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if recoveryHash != nil {
		factor.RecoveryCodeHash = *recoveryHash
	}

	return &factor, nil
}

func (r *TotpFactorRepository) Get(ctx context.Context, userID string) (*models.TotpFactor, error) {
	query := `
		SELECT user_id, secret_encrypted, secret_nonce, enabled, backup_codes, recovery_code_hash, created_at, confirmed_at
		FROM totp_factors WHERE user_id = $1
	`

	return scanTotpFactorRow(r.q.QueryRow(ctx, query, userID))
}

func (r *TotpFactorRepository) Create(ctx context.Context, factor *models.TotpFactor) error {
	factor.CreatedAt = time.Now()

	query := `
		INSERT INTO totp_factors (user_id, secret_encrypted, secret_nonce, enabled, backup_codes, recovery_code_hash, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`

	_, err := r.q.Exec(ctx, query,
		factor.UserID, factor.SecretEncrypted, factor.SecretNonce,
		factor.Enabled, factor.BackupCodes, factor.RecoveryCodeHash,
		factor.CreatedAt, factor.ConfirmedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *TotpFactorRepository) Confirm(ctx context.Context, userID string, backupCodes []models.BackupCodeEntry, recoveryHash string, confirmedAt time.Time) error {
	query := `
		UPDATE totp_factors
		SET enabled = TRUE, backup_codes = $2, recovery_code_hash = $3, confirmed_at = $4
		WHERE user_id = $1
	`

	result, err := r.q.Exec(ctx, query, userID, backupCodes, recoveryHash, confirmedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *TotpFactorRepository) UpdateBackupCodes(ctx context.Context, userID string, backupCodes []models.BackupCodeEntry) error {
	query := `UPDATE totp_factors SET backup_codes = $2 WHERE user_id = $1`

	result, err := r.q.Exec(ctx, query, userID, backupCodes)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *TotpFactorRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM totp_factors WHERE user_id = $1`

	result, err := r.q.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
