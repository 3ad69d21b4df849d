package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rowanvale/sentinel/internal/models"
	pkgauth "github.com/rowanvale/sentinel/pkg/auth"
)

// EmailFactorService manages the email one-time-code second factor. Unlike
// TOTP there is no enrollment handshake: enabling binds the factor to the
// account's current email address in one step.
type EmailFactorService struct {
	store  Store
	codes  *VerificationCodeService
	logger *slog.Logger
}

func NewEmailFactorService(store Store, codes *VerificationCodeService, log *slog.Logger) *EmailFactorService {
	return &EmailFactorService{
		store:  store,
		codes:  codes,
		logger: log,
	}
}

// Enable turns on the email factor for the account, binding it to the
// current account address. Any already-active factor is a conflict. Factor
// row and credential flip commit together.
func (s *EmailFactorService) Enable(ctx context.Context, userID string) (string, error) {
	var email string

	err := s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if cred.FactorType != models.FactorNone {
			return models.ErrFactorConflict
		}

		// drop any leftover enable code so it cannot linger redeemable
		if err := st.VerificationCodes().Delete(ctx, models.PurposeEnableEmailFactor, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to clear enable code: %w", err)
		}

		factor := &models.EmailFactor{
			UserID:  userID,
			Email:   cred.Email,
			Enabled: true,
		}
		if err := st.EmailFactors().Create(ctx, factor); err != nil {
			return fmt.Errorf("failed to create email factor: %w", err)
		}

		if err := st.Credentials().UpdateFactorType(ctx, userID, models.FactorEmail); err != nil {
			return fmt.Errorf("failed to update factor type: %w", err)
		}

		email = cred.Email
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("email factor enabled", slog.String("user_id", userID))

	return email, nil
}

// Disable removes the email factor after checking the account password and
// redeeming a disable-email-factor code. Delete and credential flip are
// atomic.
func (s *EmailFactorService) Disable(ctx context.Context, userID, passwordHash, emailCode string) error {
	err := s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if err := pkgauth.ComparePassword(cred.PasswordHash, passwordHash); err != nil {
			return models.ErrUnauthorized
		}

		if cred.FactorType != models.FactorEmail {
			return models.ErrFactorNotEnrolled
		}

		ok, err := s.codes.Consume(ctx, st, models.PurposeDisableEmailFactor, userID, emailCode)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidCode
		}

		if err := st.EmailFactors().Delete(ctx, userID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				// factor_type said email but no factor row exists
				return fmt.Errorf("email factor row missing for factor_type %q: %w", cred.FactorType, models.ErrInvariant)
			}
			return fmt.Errorf("failed to delete email factor: %w", err)
		}

		if err := st.Credentials().UpdateFactorType(ctx, userID, models.FactorNone); err != nil {
			return fmt.Errorf("failed to update factor type: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("email factor disabled", slog.String("user_id", userID))

	return nil
}
