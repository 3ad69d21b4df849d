package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/pkg/logger"
)

// CodePolicy describes the shape and daily quota of one verification-code
// purpose.
type CodePolicy struct {
	DailyQuota   int
	Expiry       time.Duration
	Length       int
	Alphanumeric bool
}

// DefaultCodePolicies holds the per-purpose issuance rules. The default shape
// is a 6-digit numeric code valid for 30 minutes; change-email and
// forgot-password carry a longer alphanumeric code.
func DefaultCodePolicies() map[string]CodePolicy {
	return map[string]CodePolicy{
		models.PurposeRegistration:       {DailyQuota: 10, Expiry: 30 * time.Minute, Length: 6},
		models.PurposeLoginEmail:         {DailyQuota: 10, Expiry: 30 * time.Minute, Length: 6},
		models.PurposeChangeEmail:        {DailyQuota: 3, Expiry: 30 * time.Minute, Length: 12, Alphanumeric: true},
		models.PurposeChangePassword:     {DailyQuota: 5, Expiry: 30 * time.Minute, Length: 6},
		models.PurposeForgotPassword:     {DailyQuota: 5, Expiry: 30 * time.Minute, Length: 12, Alphanumeric: true},
		models.PurposeEnableEmailFactor:  {DailyQuota: 5, Expiry: 30 * time.Minute, Length: 6},
		models.PurposeDisableEmailFactor: {DailyQuota: 5, Expiry: 30 * time.Minute, Length: 6},
	}
}

// IssueResult reports the outcome of a code issuance request.
type IssueResult struct {
	IsCoolingDown bool
}

// VerificationCodeService is the purpose-scoped one-time-code ledger. One
// outstanding code per (purpose, account-ref) key; issuance is cooldown- and
// quota-gated, redemption never mutates the stored record.
type VerificationCodeService struct {
	store     Store
	mailer    EmailService
	templates TemplateResolver
	cooldown  time.Duration
	policies  map[string]CodePolicy
	logger    *slog.Logger
	now       func() time.Time
}

func NewVerificationCodeService(store Store, mailer EmailService, templates TemplateResolver, cooldown time.Duration, policies map[string]CodePolicy, log *slog.Logger) *VerificationCodeService {
	if policies == nil {
		policies = DefaultCodePolicies()
	}

	return &VerificationCodeService{
		store:     store,
		mailer:    mailer,
		templates: templates,
		cooldown:  cooldown,
		policies:  policies,
		logger:    log,
		now:       time.Now,
	}
}

// Issue creates and mails a code for (purpose, accountRef), delivered to
// toEmail. The cooldown check, quota check, code write, and mail dispatch all
// run in one transaction; a dispatch failure rolls the stored code and
// cooldown state back together.
//
// A request inside the cooldown window returns IsCoolingDown=true and leaves
// the stored code untouched.
func (s *VerificationCodeService) Issue(ctx context.Context, purpose, accountRef, toEmail, locale string) (*IssueResult, error) {
	policy, ok := s.policies[purpose]
	if !ok {
		return nil, fmt.Errorf("unknown verification purpose %q: %w", purpose, models.ErrBadRequest)
	}

	result := &IssueResult{}

	err := s.store.InTx(ctx, func(st Store) error {
		now := s.now()
		attempts := 0

		existing, err := st.VerificationCodes().Get(ctx, purpose, accountRef)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to read verification code: %w", err)
		}

		if existing != nil {
			if since := now.Sub(existing.LastRequestAt); since < s.cooldown {
				result.IsCoolingDown = true
				return nil
			}

			// The quota counter resets on the first issuance of a new
			// calendar day.
			if sameDay(existing.LastRequestAt, now) {
				attempts = existing.AttemptsToday
			}
		}

		if attempts >= policy.DailyQuota {
			return &models.RateLimitError{RetryAfter: untilNextDay(now)}
		}

		code, err := generateCode(policy)
		if err != nil {
			return err
		}

		record := &models.VerificationCode{
			Purpose:       purpose,
			AccountRef:    accountRef,
			Code:          code,
			ExpiresAt:     now.Add(policy.Expiry),
			AttemptsToday: attempts + 1,
			LastRequestAt: now,
		}

		if err := st.VerificationCodes().Upsert(ctx, record); err != nil {
			return fmt.Errorf("failed to store verification code: %w", err)
		}

		tmpl := s.templates.Resolve(purpose, locale)
		if err := s.mailer.Send(ctx, toEmail, tmpl.Title, fmt.Sprintf(tmpl.HTMLTemplate, code)); err != nil {
			return fmt.Errorf("failed to dispatch verification mail: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IsCoolingDown {
		s.logger.Info("verification code request in cooldown",
			slog.String("purpose", purpose))
	} else {
		s.logger.Info("verification code issued",
			slog.String("purpose", purpose),
			slog.String("account_ref", logger.SanitizedEmail(accountRef)))
	}

	return result, nil
}

// Redeem reports whether a submitted code matches the outstanding record and
// is not expired. Redemption never mutates the record; deletion is the
// caller's responsibility where one-time-use is required. The passed store
// lets callers redeem inside their own transaction.
func (s *VerificationCodeService) Redeem(ctx context.Context, st Store, purpose, accountRef, code string) (bool, error) {
	record, err := st.VerificationCodes().Get(ctx, purpose, accountRef)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read verification code: %w", err)
	}

	if record.IsExpired(s.now()) {
		return false, nil
	}

	return record.Matches(code), nil
}

// Consume redeems and, on success, deletes the record so the code is
// one-shot.
func (s *VerificationCodeService) Consume(ctx context.Context, st Store, purpose, accountRef, code string) (bool, error) {
	ok, err := s.Redeem(ctx, st, purpose, accountRef, code)
	if err != nil || !ok {
		return false, err
	}

	if err := st.VerificationCodes().Delete(ctx, purpose, accountRef); err != nil {
		return false, fmt.Errorf("failed to delete redeemed code: %w", err)
	}

	return true, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func untilNextDay(now time.Time) time.Duration {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(u)
}

func generateCode(policy CodePolicy) (string, error) {
	charset := "0123456789"
	if policy.Alphanumeric {
		charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	}

	buf := make([]byte, policy.Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		buf[i] = charset[n.Int64()]
	}

	return string(buf), nil
}
