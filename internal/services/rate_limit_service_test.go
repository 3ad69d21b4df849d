package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanvale/sentinel/internal/models"
)

func newLockout() *LockoutService {
	return NewLockoutService(LockoutConfig{MaxAttempts: 5, Window: time.Hour}, testLogger())
}

func TestLockoutService_Gate_UnderThreshold(t *testing.T) {
	store := newMemStore()
	svc := newLockout()

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.RecordFailure(context.Background(), store, "user-1", models.AttemptKindTotpLogin))
	}

	locked, _, err := svc.Gate(context.Background(), store, "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockoutService_Gate_LockedAndStillIncrements(t *testing.T) {
	store := newMemStore()
	svc := newLockout()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailure(context.Background(), store, "user-1", models.AttemptKindTotpLogin))
	}

	locked, retryAfter, err := svc.Gate(context.Background(), store, "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, time.Hour, retryAfter)

	// the rejected attempt itself counted, sliding the window forward
	attempt, err := store.VerifyAttempts().Get(context.Background(), "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.Equal(t, 6, attempt.Attempts)

	locked, _, err = svc.Gate(context.Background(), store, "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.True(t, locked)

	attempt, err = store.VerifyAttempts().Get(context.Background(), "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.Equal(t, 7, attempt.Attempts)
}

func TestLockoutService_Gate_WindowElapseResets(t *testing.T) {
	store := newMemStore()
	svc := newLockout()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailure(context.Background(), store, "user-1", models.AttemptKindTotpLogin))
	}

	locked, _, err := svc.Gate(context.Background(), store, "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.True(t, locked)

	// once the trailing window elapses the counter is treated as zero
	svc.now = func() time.Time { return base.Add(61 * time.Minute) }
	locked, _, err = svc.Gate(context.Background(), store, "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.False(t, locked)

	// the next failure starts a fresh window at 1
	require.NoError(t, svc.RecordFailure(context.Background(), store, "user-1", models.AttemptKindTotpLogin))
	attempt, err := store.VerifyAttempts().Get(context.Background(), "user-1", models.AttemptKindTotpLogin)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.Attempts)
}

func TestLockoutService_KindsAreIndependent(t *testing.T) {
	store := newMemStore()
	svc := newLockout()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailure(context.Background(), store, "user-1", models.AttemptKindTotpLogin))
	}

	locked, _, err := svc.Gate(context.Background(), store, "user-1", models.AttemptKindTotpDisable)
	require.NoError(t, err)
	assert.False(t, locked)
}
