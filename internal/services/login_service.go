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
	"github.com/rowanvale/sentinel/pkg/logger"
)

// LoginRequest is the semantic login input. A factor code is present only on
// the second round trip of a two-step login.
type LoginRequest struct {
	Email        string
	PasswordHash string // hex SHA-256 submitted by the client
	FactorCode   string // TOTP, backup, or recovery code for the totp factor
	EmailCode    string // one-time code for the email factor
	IPAddress    string
	UserAgent    string
}

// LoginResult is the semantic login outcome. When a second factor is
// required and no code was submitted, Success is false, AuthenticatorType
// names the factor, and ChallengeToken carries the short-lived proof of the
// completed password step.
type LoginResult struct {
	Success           bool
	Token             string // composed bearer, set only on success
	AuthenticatorType models.FactorType
	ChallengeToken    string
	IsCoolingDown     bool
	RetryAfter        time.Duration
}

// loginOutcome distinguishes tx results that must commit even though the
// login is rejected (lockout increments).
type loginOutcome int

const (
	outcomeSuccess loginOutcome = iota
	outcomeCoolingDown
	outcomeBadCode
)

// LoginService is the login state machine:
// AwaitingPassword -> PasswordOk -> {Done | AwaitingTotp | AwaitingEmailCode}.
type LoginService struct {
	store      Store
	challenges *auth.ChallengeTokenManager
	totp       *auth.TOTPManager
	lockout    *LockoutService
	codes      *VerificationCodeService
	timing     *auth.TimingDelay
	audit      *logger.AuditLogger
	logger     *slog.Logger
	now        func() time.Time
}

func NewLoginService(store Store, challenges *auth.ChallengeTokenManager, totp *auth.TOTPManager, lockout *LockoutService, codes *VerificationCodeService, timing *auth.TimingDelay, audit *logger.AuditLogger, log *slog.Logger) *LoginService {
	return &LoginService{
		store:      store,
		challenges: challenges,
		totp:       totp,
		lockout:    lockout,
		codes:      codes,
		timing:     timing,
		audit:      audit,
		logger:     log,
		now:        time.Now,
	}
}

// Login runs the full state machine. The user-visible failure is the same
// generic ErrUnauthorized whether the email, password, or code was wrong, so
// responses give no oracle for which part failed.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := pkgauth.ValidateClientHash(req.PasswordHash); err != nil {
		return nil, fmt.Errorf("%s: %w", err, models.ErrBadRequest)
	}

	cred, err := s.store.Credentials().GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.rejectAuth(req, "", "unknown email")
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	if err := pkgauth.ComparePassword(cred.PasswordHash, req.PasswordHash); err != nil {
		s.rejectAuth(req, cred.ID, "wrong password")
		return nil, models.ErrUnauthorized
	}

	// PasswordOk; dispatch on the active factor
	switch cred.FactorType {
	case models.FactorNone:
		return s.finish(ctx, s.store, cred, req)

	case models.FactorTOTP:
		if req.FactorCode == "" {
			return s.challenge(cred, req)
		}
		return s.totpStep(ctx, cred, req)

	case models.FactorEmail:
		if req.EmailCode == "" {
			return s.challenge(cred, req)
		}
		return s.emailStep(ctx, cred, req)

	default:
		return nil, fmt.Errorf("credential %s has factor_type %q: %w", cred.ID, cred.FactorType, models.ErrInvariant)
	}
}

// LoginWithChallenge completes the second round trip of a two-step login.
// The challenge token stands in for the already-verified password, so the
// client does not resubmit it.
func (s *LoginService) LoginWithChallenge(ctx context.Context, challengeToken string, req LoginRequest) (*LoginResult, error) {
	claims, err := s.challenges.Validate(challengeToken)
	if err != nil {
		s.rejectAuth(req, "", "invalid challenge token")
		return nil, models.ErrUnauthorized
	}

	cred, err := s.store.Credentials().GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.rejectAuth(req, claims.UserID, "unknown identity")
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	// the factor must not have changed since the challenge was issued
	if cred.FactorType != claims.Factor {
		s.rejectAuth(req, cred.ID, "stale challenge token")
		return nil, models.ErrUnauthorized
	}

	switch cred.FactorType {
	case models.FactorTOTP:
		if req.FactorCode == "" {
			return nil, fmt.Errorf("missing factor code: %w", models.ErrBadRequest)
		}
		return s.totpStep(ctx, cred, req)
	case models.FactorEmail:
		if req.EmailCode == "" {
			return nil, fmt.Errorf("missing email code: %w", models.ErrBadRequest)
		}
		return s.emailStep(ctx, cred, req)
	default:
		return nil, fmt.Errorf("challenge issued for factor_type %q: %w", cred.FactorType, models.ErrInvariant)
	}
}

// challenge answers the first round trip of a two-step login: password
// accepted, factor code still outstanding.
func (s *LoginService) challenge(cred *models.UserCredential, req LoginRequest) (*LoginResult, error) {
	token, err := s.challenges.Issue(cred.ID, cred.FactorType)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge token: %w", err)
	}

	s.logger.Info("login awaiting second factor",
		slog.String("user_id", cred.ID),
		slog.String("factor", string(cred.FactorType)))

	return &LoginResult{
		AuthenticatorType: cred.FactorType,
		ChallengeToken:    token,
	}, nil
}

// totpStep verifies a live TOTP code, a backup code, or a recovery code.
// Codes longer than six characters are recovery codes; redeeming one revokes
// the whole factor in the same transaction that issues the session.
func (s *LoginService) totpStep(ctx context.Context, cred *models.UserCredential, req LoginRequest) (*LoginResult, error) {
	result := &LoginResult{AuthenticatorType: models.FactorTOTP}
	outcome := outcomeBadCode

	err := s.store.InTx(ctx, func(st Store) error {
		factor, err := st.TotpFactors().Get(ctx, cred.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("no TOTP factor for factor_type %q: %w", cred.FactorType, models.ErrInvariant)
			}
			return err
		}
		if !factor.Enabled {
			return fmt.Errorf("pending TOTP factor with factor_type %q: %w", cred.FactorType, models.ErrInvariant)
		}

		if len(req.FactorCode) > 6 {
			return s.recoveryAttempt(ctx, st, cred, factor, req.FactorCode, result, &outcome)
		}

		locked, retryAfter, err := s.lockout.Gate(ctx, st, cred.ID, models.AttemptKindTotpLogin)
		if err != nil {
			return err
		}
		if locked {
			outcome = outcomeCoolingDown
			result.IsCoolingDown = true
			result.RetryAfter = retryAfter
			return nil
		}

		raw, err := s.totp.DecryptSecret(factor.SecretEncrypted, factor.SecretNonce)
		if err != nil {
			return fmt.Errorf("failed to decrypt secret: %w", err)
		}
		secret := models.Secret(raw)
		defer secret.Wipe()

		valid, err := s.totp.ValidateCode(secret.Reveal(), req.FactorCode, s.now())
		if err != nil {
			return err
		}
		if valid {
			outcome = outcomeSuccess
			return s.issueSession(ctx, st, cred, result)
		}

		// not a live code; scan the unused backup hashes. A backup match
		// consumes the code and does not count as a failure.
		for i := range factor.BackupCodes {
			entry := &factor.BackupCodes[i]
			if entry.UsedAt != nil {
				continue
			}
			if s.totp.CompareCode(entry.CodeHash, req.FactorCode) {
				usedAt := s.now()
				entry.UsedAt = &usedAt
				if err := st.TotpFactors().UpdateBackupCodes(ctx, cred.ID, factor.BackupCodes); err != nil {
					return fmt.Errorf("failed to consume backup code: %w", err)
				}
				outcome = outcomeSuccess
				return s.issueSession(ctx, st, cred, result)
			}
		}

		return s.lockout.RecordFailure(ctx, st, cred.ID, models.AttemptKindTotpLogin)
	})
	if err != nil {
		return nil, err
	}

	return s.resolve(cred, req, result, outcome, "totp")
}

// recoveryAttempt handles the long-form code: a match both authenticates and
// permanently deletes the TOTP factor. A failed factor delete rejects the
// whole login.
func (s *LoginService) recoveryAttempt(ctx context.Context, st Store, cred *models.UserCredential, factor *models.TotpFactor, code string, result *LoginResult, outcome *loginOutcome) error {
	if factor.RecoveryCodeHash == "" || !s.totp.CompareCode(factor.RecoveryCodeHash, code) {
		*outcome = outcomeBadCode
		return nil
	}

	if err := st.TotpFactors().Delete(ctx, cred.ID); err != nil {
		return fmt.Errorf("failed to revoke TOTP factor: %w", err)
	}
	if err := st.Credentials().UpdateFactorType(ctx, cred.ID, models.FactorNone); err != nil {
		return fmt.Errorf("failed to update factor type: %w", err)
	}

	s.audit.LogFactorChange("factor_revoked_by_recovery", cred.ID, string(models.FactorTOTP), true)

	result.AuthenticatorType = models.FactorNone
	*outcome = outcomeSuccess
	return s.issueSession(ctx, st, cred, result)
}

// emailStep redeems a login-email one-time code. The code is one-shot:
// success deletes the record. Beyond expiry and one-shot redemption there is
// no attempt lockout on this path.
func (s *LoginService) emailStep(ctx context.Context, cred *models.UserCredential, req LoginRequest) (*LoginResult, error) {
	if len(req.EmailCode) != 6 {
		return nil, fmt.Errorf("email code must be 6 digits: %w", models.ErrBadRequest)
	}

	result := &LoginResult{AuthenticatorType: models.FactorEmail}
	outcome := outcomeBadCode

	err := s.store.InTx(ctx, func(st Store) error {
		ok, err := s.codes.Consume(ctx, st, models.PurposeLoginEmail, cred.ID, req.EmailCode)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		outcome = outcomeSuccess
		return s.issueSession(ctx, st, cred, result)
	})
	if err != nil {
		return nil, err
	}

	return s.resolve(cred, req, result, outcome, "email")
}

// finish completes a password-only login.
func (s *LoginService) finish(ctx context.Context, st Store, cred *models.UserCredential, req LoginRequest) (*LoginResult, error) {
	result := &LoginResult{AuthenticatorType: models.FactorNone}
	if err := s.issueSession(ctx, st, cred, result); err != nil {
		return nil, err
	}
	return s.resolve(cred, req, result, outcomeSuccess, "password")
}

// issueSession rotates the opaque session token and composes the bearer.
func (s *LoginService) issueSession(ctx context.Context, st Store, cred *models.UserCredential, result *LoginResult) error {
	token, err := pkgauth.GenerateSessionToken()
	if err != nil {
		return err
	}

	if err := st.Credentials().UpdateSessionToken(ctx, cred.ID, token); err != nil {
		return fmt.Errorf("failed to rotate session token: %w", err)
	}

	result.Success = true
	result.Token = auth.ComposeBearer(cred.ID, token)
	return nil
}

// resolve translates a committed tx outcome into the caller-visible result.
func (s *LoginService) resolve(cred *models.UserCredential, req LoginRequest, result *LoginResult, outcome loginOutcome, factor string) (*LoginResult, error) {
	switch outcome {
	case outcomeSuccess:
		s.timing.Wait(true)
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType: "login",
			UserID:    cred.ID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			Success:   true,
			Metadata:  map[string]string{"factor": factor},
		})
		return result, nil

	case outcomeCoolingDown:
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login",
			UserID:        cred.ID,
			IPAddress:     req.IPAddress,
			UserAgent:     req.UserAgent,
			Success:       false,
			FailureReason: "factor lockout",
		})
		return nil, &models.RateLimitError{RetryAfter: result.RetryAfter}

	default:
		s.rejectAuth(req, cred.ID, "wrong "+factor+" code")
		return nil, models.ErrUnauthorized
	}
}

func (s *LoginService) rejectAuth(req LoginRequest, userID, reason string) {
	s.timing.Wait(false)
	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType:     "login",
		UserID:        userID,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		Success:       false,
		FailureReason: reason,
	})
	s.logger.Warn("login rejected",
		slog.String("email", logger.SanitizedEmail(req.Email)),
		slog.String("reason", reason))
}
