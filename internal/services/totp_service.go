package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/models"
	pkgauth "github.com/rowanvale/sentinel/pkg/auth"
)

// EnrollmentResult carries the provisioning material for a pending TOTP
// factor.
type EnrollmentResult struct {
	ProvisioningURI string
	QRCode          string // PNG data URL
}

// ConfirmResult carries the one-time plaintext recovery material. It is
// returned exactly once, at confirmation; only hashes are persisted. The
// codes travel as Secret so they redact everywhere except the one handler
// that reveals them to the client.
type ConfirmResult struct {
	BackupCodes  []models.Secret
	RecoveryCode models.Secret
}

// DisableResult reports the outcome of a TOTP disable request.
type DisableResult struct {
	IsCoolingDown bool
	RetryAfter    time.Duration
}

// TotpService drives the TOTP factor lifecycle: Absent -> Pending -> Active
// -> Absent.
type TotpService struct {
	store           Store
	totp            *auth.TOTPManager
	lockout         *LockoutService
	backupCodeCount int
	logger          *slog.Logger
	now             func() time.Time
}

func NewTotpService(store Store, totp *auth.TOTPManager, lockout *LockoutService, backupCodeCount int, log *slog.Logger) *TotpService {
	return &TotpService{
		store:           store,
		totp:            totp,
		lockout:         lockout,
		backupCodeCount: backupCodeCount,
		logger:          log,
		now:             time.Now,
	}
}

// StartEnrollment creates a pending TOTP factor for the account and returns
// its provisioning material. Re-invoking while a pending factor exists is
// idempotent: the existing secret is returned again rather than rotated.
// Any already-active factor (TOTP or email) is a conflict.
func (s *TotpService) StartEnrollment(ctx context.Context, userID string) (*EnrollmentResult, error) {
	var result *EnrollmentResult

	err := s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if cred.FactorType != models.FactorNone {
			return models.ErrFactorConflict
		}

		existing, err := st.TotpFactors().Get(ctx, userID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to read TOTP factor: %w", err)
		}

		if existing != nil {
			if existing.Enabled {
				// factor_type said none but an enabled factor exists
				return fmt.Errorf("enabled TOTP factor with factor_type %q: %w", cred.FactorType, models.ErrInvariant)
			}

			raw, err := s.totp.DecryptSecret(existing.SecretEncrypted, existing.SecretNonce)
			if err != nil {
				return fmt.Errorf("failed to decrypt pending secret: %w", err)
			}
			secret := models.Secret(raw)
			defer secret.Wipe()

			result, err = s.provisioning(cred.Email, secret.Reveal())
			return err
		}

		encrypted, nonce, secret, err := s.totp.GenerateSecret(cred.Email)
		if err != nil {
			return err
		}

		factor := &models.TotpFactor{
			UserID:          userID,
			SecretEncrypted: encrypted,
			SecretNonce:     nonce,
			Enabled:         false,
		}
		if err := st.TotpFactors().Create(ctx, factor); err != nil {
			return fmt.Errorf("failed to create pending TOTP factor: %w", err)
		}

		result, err = s.provisioning(cred.Email, secret)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("TOTP enrollment started", slog.String("user_id", userID))

	return result, nil
}

// ConfirmEnrollment validates a live code against the pending secret and, in
// one transaction, activates the factor, persists backup and recovery code
// hashes, and flips the credential's factor type. The plaintext codes are
// returned exactly once.
func (s *TotpService) ConfirmEnrollment(ctx context.Context, userID, code string) (*ConfirmResult, error) {
	var result *ConfirmResult

	err := s.store.InTx(ctx, func(st Store) error {
		factor, err := st.TotpFactors().Get(ctx, userID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrFactorNotEnrolled
			}
			return err
		}

		if factor.Enabled {
			return models.ErrConflict
		}

		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if cred.FactorType != models.FactorNone {
			return models.ErrFactorConflict
		}

		raw, err := s.totp.DecryptSecret(factor.SecretEncrypted, factor.SecretNonce)
		if err != nil {
			return fmt.Errorf("failed to decrypt pending secret: %w", err)
		}
		secret := models.Secret(raw)
		defer secret.Wipe()

		valid, err := s.totp.ValidateCode(secret.Reveal(), code, s.now())
		if err != nil {
			return err
		}
		if !valid {
			return models.ErrInvalidCode
		}

		backupCodes, err := s.totp.GenerateBackupCodes(s.backupCodeCount)
		if err != nil {
			return err
		}
		recoveryCode, err := s.totp.GenerateRecoveryCode()
		if err != nil {
			return err
		}

		entries := make([]models.BackupCodeEntry, len(backupCodes))
		for i, bc := range backupCodes {
			hash, err := s.totp.HashCode(bc)
			if err != nil {
				return err
			}
			entries[i] = models.BackupCodeEntry{CodeHash: hash}
		}

		recoveryHash, err := s.totp.HashCode(recoveryCode)
		if err != nil {
			return err
		}

		if err := st.TotpFactors().Confirm(ctx, userID, entries, recoveryHash, s.now()); err != nil {
			return fmt.Errorf("failed to activate TOTP factor: %w", err)
		}

		if err := st.Credentials().UpdateFactorType(ctx, userID, models.FactorTOTP); err != nil {
			return fmt.Errorf("failed to update factor type: %w", err)
		}

		result = &ConfirmResult{RecoveryCode: models.NewSecret(recoveryCode)}
		for _, bc := range backupCodes {
			result.BackupCodes = append(result.BackupCodes, models.NewSecret(bc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("TOTP enrollment confirmed", slog.String("user_id", userID))

	return result, nil
}

// Disable removes an active TOTP factor after checking the account password
// and a live code. The code check is lockout-gated; a rejected attempt while
// cooling down still counts against the window. The factor delete and the
// credential flip commit together or not at all.
func (s *TotpService) Disable(ctx context.Context, userID, passwordHash, code string) (*DisableResult, error) {
	result := &DisableResult{}
	var failedCode bool

	err := s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if err := pkgauth.ComparePassword(cred.PasswordHash, passwordHash); err != nil {
			return models.ErrUnauthorized
		}

		locked, retryAfter, err := s.lockout.Gate(ctx, st, userID, models.AttemptKindTotpDisable)
		if err != nil {
			return err
		}
		if locked {
			// commit so the lockout increment persists
			result.IsCoolingDown = true
			result.RetryAfter = retryAfter
			return nil
		}

		factor, err := st.TotpFactors().Get(ctx, userID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrFactorNotEnrolled
			}
			return err
		}
		if !factor.Enabled {
			return models.ErrFactorNotEnrolled
		}

		raw, err := s.totp.DecryptSecret(factor.SecretEncrypted, factor.SecretNonce)
		if err != nil {
			return fmt.Errorf("failed to decrypt secret: %w", err)
		}
		secret := models.Secret(raw)
		defer secret.Wipe()

		valid, err := s.totp.ValidateCode(secret.Reveal(), code, s.now())
		if err != nil {
			return err
		}
		if !valid {
			failedCode = true
			return s.lockout.RecordFailure(ctx, st, userID, models.AttemptKindTotpDisable)
		}

		if err := st.TotpFactors().Delete(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete TOTP factor: %w", err)
		}
		if err := st.Credentials().UpdateFactorType(ctx, userID, models.FactorNone); err != nil {
			return fmt.Errorf("failed to update factor type: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if failedCode {
		return nil, models.ErrInvalidCode
	}

	if !result.IsCoolingDown {
		s.logger.Info("TOTP factor disabled", slog.String("user_id", userID))
	}

	return result, nil
}

func (s *TotpService) provisioning(email, secret string) (*EnrollmentResult, error) {
	uri := s.totp.ProvisioningURI(email, secret)

	qr, err := s.totp.ProvisioningQR(uri)
	if err != nil {
		return nil, err
	}

	return &EnrollmentResult{ProvisioningURI: uri, QRCode: qr}, nil
}
