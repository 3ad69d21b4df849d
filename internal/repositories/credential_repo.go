package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/models"
)

type CredentialRepository struct {
	q database.Querier
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{q: db.Pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredentialRow(scanner rowScanner) (*models.UserCredential, error) {
	var cred models.UserCredential
	var sessionToken *string

	err := scanner.Scan(
		&cred.ID, &cred.Email, &cred.PasswordHash, &sessionToken,
		&cred.FactorType, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if sessionToken != nil {
		cred.SessionToken = *sessionToken
	}

	return &cred, nil
}

const credentialColumns = `id, email, password_hash, session_token, factor_type, created_at, updated_at`

func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.UserCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM user_credentials WHERE id = $1`

	return scanCredentialRow(r.q.QueryRow(ctx, query, id))
}

func (r *CredentialRepository) GetByEmail(ctx context.Context, email string) (*models.UserCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM user_credentials WHERE email = $1`

	return scanCredentialRow(r.q.QueryRow(ctx, query, email))
}

func (r *CredentialRepository) Create(ctx context.Context, cred *models.UserCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.FactorType == "" {
		cred.FactorType = models.FactorNone
	}

	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	query := `
		INSERT INTO user_credentials (id, email, password_hash, session_token, factor_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var sessionToken *string
	if cred.SessionToken != "" {
		sessionToken = &cred.SessionToken
	}

	_, err := r.q.Exec(ctx, query,
		cred.ID, cred.Email, cred.PasswordHash, sessionToken,
		cred.FactorType, cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *CredentialRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE user_credentials SET password_hash = $2, updated_at = NOW() WHERE id = $1`

	return r.execOne(ctx, query, id, passwordHash)
}

func (r *CredentialRepository) UpdateSessionToken(ctx context.Context, id, token string) error {
	query := `UPDATE user_credentials SET session_token = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`

	return r.execOne(ctx, query, id, token)
}

func (r *CredentialRepository) UpdateFactorType(ctx context.Context, id string, factorType models.FactorType) error {
	if !factorType.Valid() {
		return fmt.Errorf("invalid factor type %q: %w", factorType, models.ErrBadRequest)
	}

	query := `UPDATE user_credentials SET factor_type = $2, updated_at = NOW() WHERE id = $1`

	return r.execOne(ctx, query, id, factorType)
}

func (r *CredentialRepository) UpdateEmail(ctx context.Context, id, email string) error {
	query := `UPDATE user_credentials SET email = $2, updated_at = NOW() WHERE id = $1`

	return r.execOne(ctx, query, id, email)
}

func (r *CredentialRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
