package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowanvale/sentinel/internal/models"
)

// LockoutConfig holds the sliding-window lockout thresholds.
type LockoutConfig struct {
	MaxAttempts int           // failures tolerated inside the window
	Window      time.Duration // trailing window length
}

// LockoutService tracks failed second-factor verification attempts per
// (identity, kind) pair. Once MaxAttempts failures accumulate inside the
// trailing window, further attempts are rejected as cooling-down — and each
// rejected attempt still increments the counter, so hammering keeps sliding
// the window forward. The counter resets to zero only once the window
// elapses.
type LockoutService struct {
	config LockoutConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewLockoutService(config LockoutConfig, log *slog.Logger) *LockoutService {
	return &LockoutService{
		config: config,
		logger: log,
		now:    time.Now,
	}
}

// Gate checks whether the identity is currently locked out for the given
// kind. When locked, it increments and persists the counter before returning,
// so the caller must commit the surrounding transaction even though the
// operation itself is rejected. The store is the caller's transaction-bound
// store.
func (s *LockoutService) Gate(ctx context.Context, st Store, userID, kind string) (locked bool, retryAfter time.Duration, err error) {
	now := s.now()

	attempt, err := s.load(ctx, st, userID, kind, now)
	if err != nil {
		return false, 0, err
	}

	if attempt.Attempts < s.config.MaxAttempts {
		return false, 0, nil
	}

	attempt.Attempts++
	attempt.LastAttemptAt = now
	if err := st.VerifyAttempts().Upsert(ctx, attempt); err != nil {
		return false, 0, fmt.Errorf("failed to record lockout attempt: %w", err)
	}

	s.logger.Warn("verification attempt during lockout",
		slog.String("user_id", userID),
		slog.String("kind", kind),
		slog.Int("attempts", attempt.Attempts))

	return true, s.config.Window, nil
}

// RecordFailure increments the failure counter for (userID, kind), resetting
// it first if the trailing window has elapsed.
func (s *LockoutService) RecordFailure(ctx context.Context, st Store, userID, kind string) error {
	now := s.now()

	attempt, err := s.load(ctx, st, userID, kind, now)
	if err != nil {
		return err
	}

	attempt.Attempts++
	attempt.LastAttemptAt = now

	if err := st.VerifyAttempts().Upsert(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record verification failure: %w", err)
	}

	return nil
}

// load fetches the counter row and applies the window-elapse reset in memory.
func (s *LockoutService) load(ctx context.Context, st Store, userID, kind string, now time.Time) (*models.VerifyAttempt, error) {
	attempt, err := st.VerifyAttempts().Get(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.VerifyAttempt{UserID: userID, Kind: kind}, nil
		}
		return nil, fmt.Errorf("failed to read lockout state: %w", err)
	}

	if now.Sub(attempt.LastAttemptAt) >= s.config.Window {
		attempt.Attempts = 0
	}

	return attempt, nil
}
