package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanvale/sentinel/internal/models"
)

func newEmailFactorService(store Store) *EmailFactorService {
	codes := newCodeService(store, &mockMailer{})
	return NewEmailFactorService(store, codes, testLogger())
}

func TestEmailFactorService_Enable(t *testing.T) {
	store := newMemStore()
	svc := newEmailFactorService(store)
	cred := addCredentialWithPassword(t, store, "e@x.com", models.FactorNone)

	email, err := svc.Enable(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "e@x.com", email)

	factor, err := store.EmailFactors().Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.True(t, factor.Enabled)
	assert.Equal(t, "e@x.com", factor.Email)

	updated, err := store.Credentials().GetByID(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FactorEmail, updated.FactorType)
}

func TestEmailFactorService_Enable_ConflictWithTotp(t *testing.T) {
	store := newMemStore()
	svc := newEmailFactorService(store)
	cred := addCredentialWithPassword(t, store, "e@x.com", models.FactorTOTP)

	_, err := svc.Enable(context.Background(), cred.ID)
	assert.ErrorIs(t, err, models.ErrFactorConflict)
}

func TestEmailFactorService_Disable(t *testing.T) {
	store := newMemStore()
	svc := newEmailFactorService(store)
	cred := addCredentialWithPassword(t, store, "e@x.com", models.FactorNone)

	_, err := svc.Enable(context.Background(), cred.ID)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.VerificationCodes().Upsert(context.Background(), &models.VerificationCode{
		Purpose:       models.PurposeDisableEmailFactor,
		AccountRef:    cred.ID,
		Code:          "424242",
		ExpiresAt:     now.Add(30 * time.Minute),
		LastRequestAt: now,
	}))

	require.NoError(t, svc.Disable(context.Background(), cred.ID, testClientHash, "424242"))

	_, err = store.EmailFactors().Get(context.Background(), cred.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	updated, err := store.Credentials().GetByID(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FactorNone, updated.FactorType)

	// the disable code is one-shot
	_, err = store.VerificationCodes().Get(context.Background(), models.PurposeDisableEmailFactor, cred.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEmailFactorService_Disable_WrongPassword(t *testing.T) {
	store := newMemStore()
	svc := newEmailFactorService(store)
	cred := addCredentialWithPassword(t, store, "e@x.com", models.FactorNone)

	_, err := svc.Enable(context.Background(), cred.ID)
	require.NoError(t, err)

	wrongHash := "0000000000000000000000000000000000000000000000000000000000000000"
	err = svc.Disable(context.Background(), cred.ID, wrongHash, "424242")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	factor, err := store.EmailFactors().Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.True(t, factor.Enabled)
}

func TestEmailFactorService_Disable_WrongCode(t *testing.T) {
	store := newMemStore()
	svc := newEmailFactorService(store)
	cred := addCredentialWithPassword(t, store, "e@x.com", models.FactorNone)

	_, err := svc.Enable(context.Background(), cred.ID)
	require.NoError(t, err)

	err = svc.Disable(context.Background(), cred.ID, testClientHash, "000000")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestEmailFactorService_Disable_NotEnrolled(t *testing.T) {
	store := newMemStore()
	svc := newEmailFactorService(store)
	cred := addCredentialWithPassword(t, store, "e@x.com", models.FactorNone)

	err := svc.Disable(context.Background(), cred.ID, testClientHash, "424242")
	assert.ErrorIs(t, err, models.ErrFactorNotEnrolled)
}
