package services

import (
	"context"
	"time"

	"github.com/rowanvale/sentinel/internal/models"
)

// CredentialStore persists and reads identity credentials.
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*models.UserCredential, error)
	GetByEmail(ctx context.Context, email string) (*models.UserCredential, error)
	Create(ctx context.Context, cred *models.UserCredential) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateSessionToken(ctx context.Context, id, token string) error
	UpdateFactorType(ctx context.Context, id string, factorType models.FactorType) error
	UpdateEmail(ctx context.Context, id, email string) error
}

// TotpFactorStore persists TOTP enrollment state.
type TotpFactorStore interface {
	Get(ctx context.Context, userID string) (*models.TotpFactor, error)
	Create(ctx context.Context, factor *models.TotpFactor) error
	Confirm(ctx context.Context, userID string, backupCodes []models.BackupCodeEntry, recoveryHash string, confirmedAt time.Time) error
	UpdateBackupCodes(ctx context.Context, userID string, backupCodes []models.BackupCodeEntry) error
	Delete(ctx context.Context, userID string) error
}

// EmailFactorStore persists email-factor state.
type EmailFactorStore interface {
	Get(ctx context.Context, userID string) (*models.EmailFactor, error)
	Create(ctx context.Context, factor *models.EmailFactor) error
	Delete(ctx context.Context, userID string) error
}

// VerificationCodeStore persists the single outstanding code per
// (purpose, account-ref) key.
type VerificationCodeStore interface {
	Get(ctx context.Context, purpose, accountRef string) (*models.VerificationCode, error)
	Upsert(ctx context.Context, code *models.VerificationCode) error
	Delete(ctx context.Context, purpose, accountRef string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// VerifyAttemptStore persists the sliding-window lockout counters.
type VerifyAttemptStore interface {
	Get(ctx context.Context, userID, kind string) (*models.VerifyAttempt, error)
	Upsert(ctx context.Context, attempt *models.VerifyAttempt) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// Store groups the per-aggregate stores and scopes them to a transaction.
// InTx runs fn against a transaction-bound Store; any error aborts the whole
// transaction so multi-step flows never persist a partial result.
type Store interface {
	Credentials() CredentialStore
	TotpFactors() TotpFactorStore
	EmailFactors() EmailFactorStore
	VerificationCodes() VerificationCodeStore
	VerifyAttempts() VerifyAttemptStore
	InTx(ctx context.Context, fn func(Store) error) error
}
