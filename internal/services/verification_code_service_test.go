package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanvale/sentinel/internal/models"
)

func newCodeService(store Store, mailer EmailService) *VerificationCodeService {
	return NewVerificationCodeService(store, mailer, NewTemplateResolver(), 55*time.Second, nil, testLogger())
}

func TestVerificationCodeService_Issue_CooldownDoesNotRotateCode(t *testing.T) {
	store := newMemStore()
	mailer := &mockMailer{}
	svc := newCodeService(store, mailer)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	// t=0: issued
	result, err := svc.Issue(context.Background(), models.PurposeForgotPassword, "e@x.com", "e@x.com", "en")
	require.NoError(t, err)
	assert.False(t, result.IsCoolingDown)
	require.Len(t, mailer.sent, 1)

	first, err := store.VerificationCodes().Get(context.Background(), models.PurposeForgotPassword, "e@x.com")
	require.NoError(t, err)

	// t=30s: cooling down, stored code untouched, no second mail
	svc.now = func() time.Time { return base.Add(30 * time.Second) }
	result, err = svc.Issue(context.Background(), models.PurposeForgotPassword, "e@x.com", "e@x.com", "en")
	require.NoError(t, err)
	assert.True(t, result.IsCoolingDown)
	assert.Len(t, mailer.sent, 1)

	unchanged, err := store.VerificationCodes().Get(context.Background(), models.PurposeForgotPassword, "e@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.Code, unchanged.Code)
	assert.Equal(t, first.ExpiresAt, unchanged.ExpiresAt)

	// t=56s: cooldown over, new code replaces the old one
	svc.now = func() time.Time { return base.Add(56 * time.Second) }
	result, err = svc.Issue(context.Background(), models.PurposeForgotPassword, "e@x.com", "e@x.com", "en")
	require.NoError(t, err)
	assert.False(t, result.IsCoolingDown)
	assert.Len(t, mailer.sent, 2)

	rotated, err := store.VerificationCodes().Get(context.Background(), models.PurposeForgotPassword, "e@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, rotated.Code)
}

func TestVerificationCodeService_Issue_DailyQuota(t *testing.T) {
	store := newMemStore()
	svc := newCodeService(store, &mockMailer{})

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// change-email allows 3 issuances per day
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		result, err := svc.Issue(context.Background(), models.PurposeChangeEmail, "new@x.com", "new@x.com", "en")
		require.NoError(t, err)
		assert.False(t, result.IsCoolingDown)
	}

	svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, err := svc.Issue(context.Background(), models.PurposeChangeEmail, "new@x.com", "new@x.com", "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRateLimited)

	var rateErr *models.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfter, time.Duration(0))

	// the counter resets on the first issuance of the next calendar day
	svc.now = func() time.Time { return base.Add(13 * time.Hour) }
	result, err := svc.Issue(context.Background(), models.PurposeChangeEmail, "new@x.com", "new@x.com", "en")
	require.NoError(t, err)
	assert.False(t, result.IsCoolingDown)

	record, err := store.VerificationCodes().Get(context.Background(), models.PurposeChangeEmail, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, record.AttemptsToday)
}

func TestVerificationCodeService_Issue_CodeShapePerPurpose(t *testing.T) {
	store := newMemStore()
	svc := newCodeService(store, &mockMailer{})

	_, err := svc.Issue(context.Background(), models.PurposeLoginEmail, "user-1", "e@x.com", "en")
	require.NoError(t, err)

	numeric, err := store.VerificationCodes().Get(context.Background(), models.PurposeLoginEmail, "user-1")
	require.NoError(t, err)
	assert.Len(t, numeric.Code, 6)
	for _, r := range numeric.Code {
		assert.True(t, r >= '0' && r <= '9', "expected digit, got %q", r)
	}

	_, err = svc.Issue(context.Background(), models.PurposeForgotPassword, "e@x.com", "e@x.com", "en")
	require.NoError(t, err)

	alpha, err := store.VerificationCodes().Get(context.Background(), models.PurposeForgotPassword, "e@x.com")
	require.NoError(t, err)
	assert.Len(t, alpha.Code, 12)
}

func TestVerificationCodeService_Issue_UnknownPurpose(t *testing.T) {
	svc := newCodeService(newMemStore(), &mockMailer{})

	_, err := svc.Issue(context.Background(), "no-such-purpose", "x", "e@x.com", "en")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestVerificationCodeService_Issue_MailFailureAbortsIssuance(t *testing.T) {
	store := newMemStore()
	mailer := &mockMailer{
		SendFunc: func(ctx context.Context, to, subject, htmlBody string) error {
			return errors.New("ses unavailable")
		},
	}
	svc := newCodeService(store, mailer)

	_, err := svc.Issue(context.Background(), models.PurposeLoginEmail, "user-1", "e@x.com", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ses unavailable")
}

func TestVerificationCodeService_Redeem(t *testing.T) {
	store := newMemStore()
	svc := newCodeService(store, &mockMailer{})

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	record := &models.VerificationCode{
		Purpose:       models.PurposeLoginEmail,
		AccountRef:    "user-1",
		Code:          "123456",
		ExpiresAt:     now.Add(30 * time.Minute),
		AttemptsToday: 1,
		LastRequestAt: now,
	}
	require.NoError(t, store.VerificationCodes().Upsert(context.Background(), record))

	ok, err := svc.Redeem(context.Background(), store, models.PurposeLoginEmail, "user-1", "654321")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Redeem(context.Background(), store, models.PurposeLoginEmail, "user-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	// redemption, successful or not, never mutates the stored record
	after, err := store.VerificationCodes().Get(context.Background(), models.PurposeLoginEmail, "user-1")
	require.NoError(t, err)
	assert.Equal(t, record.ExpiresAt, after.ExpiresAt)
	assert.Equal(t, record.Code, after.Code)
	assert.Equal(t, record.AttemptsToday, after.AttemptsToday)

	// expired codes never redeem
	svc.now = func() time.Time { return now.Add(31 * time.Minute) }
	ok, err = svc.Redeem(context.Background(), store, models.PurposeLoginEmail, "user-1", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerificationCodeService_Redeem_MissingRecord(t *testing.T) {
	store := newMemStore()
	svc := newCodeService(store, &mockMailer{})

	ok, err := svc.Redeem(context.Background(), store, models.PurposeLoginEmail, "user-1", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerificationCodeService_Consume_OneShot(t *testing.T) {
	store := newMemStore()
	svc := newCodeService(store, &mockMailer{})

	now := time.Now()
	record := &models.VerificationCode{
		Purpose:       models.PurposeLoginEmail,
		AccountRef:    "user-1",
		Code:          "123456",
		ExpiresAt:     now.Add(30 * time.Minute),
		LastRequestAt: now,
	}
	require.NoError(t, store.VerificationCodes().Upsert(context.Background(), record))

	ok, err := svc.Consume(context.Background(), store, models.PurposeLoginEmail, "user-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Consume(context.Background(), store, models.PurposeLoginEmail, "user-1", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}
