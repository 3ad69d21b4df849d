package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rowanvale/sentinel/internal/models"
	pkgauth "github.com/rowanvale/sentinel/pkg/auth"
	"github.com/rowanvale/sentinel/pkg/logger"
)

// AccountService covers the credential lifecycle around the login gate:
// registration, password reset and change, email change, factor status, and
// logout. Every flow that consumes a verification code deletes the record in
// the same transaction as its write.
type AccountService struct {
	store  Store
	codes  *VerificationCodeService
	audit  *logger.AuditLogger
	logger *slog.Logger
}

func NewAccountService(store Store, codes *VerificationCodeService, audit *logger.AuditLogger, log *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		codes:  codes,
		audit:  audit,
		logger: log,
	}
}

// RequestCode resolves the ledger key and delivery address for a purpose and
// issues the code. ref is an identity key for authenticated purposes and an
// email address for the pre-auth ones.
func (s *AccountService) RequestCode(ctx context.Context, purpose, ref, locale string) (*IssueResult, error) {
	key, toEmail, err := s.resolveCodeTarget(ctx, purpose, ref)
	if err != nil {
		return nil, err
	}

	return s.codes.Issue(ctx, purpose, key, toEmail, locale)
}

// resolveCodeTarget maps (purpose, ref) to the ledger key and the address the
// code is mailed to.
func (s *AccountService) resolveCodeTarget(ctx context.Context, purpose, ref string) (key, toEmail string, err error) {
	switch purpose {
	case models.PurposeRegistration:
		// the address must not already belong to an account. A storage
		// error is treated as "already registered" so a flaky read can
		// never hand out a registration code for a taken address.
		email := normalizeEmail(ref)
		_, lookupErr := s.store.Credentials().GetByEmail(ctx, email)
		if lookupErr == nil || !errors.Is(lookupErr, models.ErrNotFound) {
			return "", "", models.ErrConflict
		}
		return email, email, nil

	case models.PurposeForgotPassword:
		email := normalizeEmail(ref)
		if _, err := s.store.Credentials().GetByEmail(ctx, email); err != nil {
			return "", "", err
		}
		return email, email, nil

	case models.PurposeLoginEmail:
		// pre-auth: ref is the login email; the ledger key is the identity
		cred, err := s.store.Credentials().GetByEmail(ctx, normalizeEmail(ref))
		if err != nil {
			return "", "", err
		}
		if cred.FactorType != models.FactorEmail {
			return "", "", models.ErrFactorNotEnrolled
		}
		return cred.ID, cred.Email, nil

	case models.PurposeChangeEmail:
		// the code goes to the NEW address, which must be unclaimed. Same
		// pessimistic treatment of lookup failures as registration.
		email := normalizeEmail(ref)
		_, lookupErr := s.store.Credentials().GetByEmail(ctx, email)
		if lookupErr == nil || !errors.Is(lookupErr, models.ErrNotFound) {
			return "", "", models.ErrConflict
		}
		return email, email, nil

	case models.PurposeChangePassword, models.PurposeEnableEmailFactor, models.PurposeDisableEmailFactor:
		cred, err := s.store.Credentials().GetByID(ctx, ref)
		if err != nil {
			return "", "", err
		}
		return cred.ID, cred.Email, nil

	default:
		return "", "", fmt.Errorf("unknown verification purpose %q: %w", purpose, models.ErrBadRequest)
	}
}

// Register creates a credential after redeeming the registration code sent to
// the address.
func (s *AccountService) Register(ctx context.Context, email, passwordHash, code string) (*models.UserCredential, error) {
	if err := pkgauth.ValidateClientHash(passwordHash); err != nil {
		return nil, fmt.Errorf("%s: %w", err, models.ErrBadRequest)
	}
	email = normalizeEmail(email)

	stored, err := pkgauth.HashPassword(passwordHash)
	if err != nil {
		return nil, err
	}

	cred := &models.UserCredential{
		Email:        email,
		PasswordHash: stored,
		FactorType:   models.FactorNone,
	}

	err = s.store.InTx(ctx, func(st Store) error {
		ok, err := s.codes.Consume(ctx, st, models.PurposeRegistration, email, code)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidCode
		}

		return st.Credentials().Create(ctx, cred)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAccountAction("account_registered", cred.ID, "", nil)

	return cred, nil
}

// ResetPassword redeems a forgot-password code and replaces the stored hash.
// The session token is cleared so any outstanding bearer dies with the old
// password.
func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPasswordHash string) error {
	if err := pkgauth.ValidateClientHash(newPasswordHash); err != nil {
		return fmt.Errorf("%s: %w", err, models.ErrBadRequest)
	}
	email = normalizeEmail(email)

	stored, err := pkgauth.HashPassword(newPasswordHash)
	if err != nil {
		return err
	}

	var userID string
	err = s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByEmail(ctx, email)
		if err != nil {
			return err
		}

		ok, err := s.codes.Consume(ctx, st, models.PurposeForgotPassword, email, code)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidCode
		}

		if err := st.Credentials().UpdatePassword(ctx, cred.ID, stored); err != nil {
			return err
		}
		if err := st.Credentials().UpdateSessionToken(ctx, cred.ID, ""); err != nil {
			return err
		}

		userID = cred.ID
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.LogAccountAction("password_reset", userID, "", nil)

	return nil
}

// ChangePassword replaces the hash for an authenticated account. Requires the
// current password and a change-password code.
func (s *AccountService) ChangePassword(ctx context.Context, userID, currentHash, newHash, code string) error {
	if err := pkgauth.ValidateClientHash(newHash); err != nil {
		return fmt.Errorf("%s: %w", err, models.ErrBadRequest)
	}

	stored, err := pkgauth.HashPassword(newHash)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if err := pkgauth.ComparePassword(cred.PasswordHash, currentHash); err != nil {
			return models.ErrUnauthorized
		}

		ok, err := s.codes.Consume(ctx, st, models.PurposeChangePassword, userID, code)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidCode
		}

		return st.Credentials().UpdatePassword(ctx, userID, stored)
	})
	if err != nil {
		return err
	}

	s.audit.LogAccountAction("password_changed", userID, "", nil)

	return nil
}

// ChangeEmail rewrites the account address after redeeming the change-email
// code that was delivered to the NEW address. While the email factor is
// active the address is load-bearing for login, so the factor must be
// disabled first.
func (s *AccountService) ChangeEmail(ctx context.Context, userID, newEmail, code string) error {
	newEmail = normalizeEmail(newEmail)

	err := s.store.InTx(ctx, func(st Store) error {
		cred, err := st.Credentials().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if cred.FactorType == models.FactorEmail {
			return models.ErrFactorConflict
		}

		ok, err := s.codes.Consume(ctx, st, models.PurposeChangeEmail, newEmail, code)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidCode
		}

		// unique index on email surfaces a concurrent claim as ErrConflict
		return st.Credentials().UpdateEmail(ctx, userID, newEmail)
	})
	if err != nil {
		return err
	}

	s.audit.LogAccountAction("email_changed", userID, "", map[string]string{
		"new_email": logger.SanitizedEmail(newEmail),
	})

	return nil
}

// FactorStatus reports which second factor, if any, is enabled for an
// account, addressed by identity key or email. An enabled factor row that
// contradicts the credential's factor type fails loudly.
func (s *AccountService) FactorStatus(ctx context.Context, identityOrEmail string) (*models.FactorStatus, error) {
	var cred *models.UserCredential
	var err error

	if strings.Contains(identityOrEmail, "@") {
		cred, err = s.store.Credentials().GetByEmail(ctx, normalizeEmail(identityOrEmail))
	} else {
		cred, err = s.store.Credentials().GetByID(ctx, identityOrEmail)
	}
	if err != nil {
		return nil, err
	}

	status := &models.FactorStatus{Type: cred.FactorType}

	switch cred.FactorType {
	case models.FactorNone:
		return status, nil

	case models.FactorTOTP:
		factor, err := s.store.TotpFactors().Get(ctx, cred.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("no TOTP factor for factor_type %q: %w", cred.FactorType, models.ErrInvariant)
			}
			return nil, err
		}
		if !factor.Enabled || factor.ConfirmedAt == nil {
			return nil, fmt.Errorf("pending TOTP factor for factor_type %q: %w", cred.FactorType, models.ErrInvariant)
		}
		status.Enabled = true
		enrolledAt := factor.ConfirmedAt.UTC().Format(time.RFC3339)
		status.EnrolledAt = &enrolledAt
		return status, nil

	case models.FactorEmail:
		factor, err := s.store.EmailFactors().Get(ctx, cred.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("no email factor for factor_type %q: %w", cred.FactorType, models.ErrInvariant)
			}
			return nil, err
		}
		status.Enabled = true
		enrolledAt := factor.CreatedAt.UTC().Format(time.RFC3339)
		status.EnrolledAt = &enrolledAt
		return status, nil

	default:
		return nil, fmt.Errorf("factor_type %q: %w", cred.FactorType, models.ErrInvariant)
	}
}

// Logout clears the stored session token; the outstanding bearer fails
// validation from then on.
func (s *AccountService) Logout(ctx context.Context, userID string) error {
	if err := s.store.Credentials().UpdateSessionToken(ctx, userID, ""); err != nil {
		return err
	}

	s.logger.Info("session cleared", slog.String("user_id", userID))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
