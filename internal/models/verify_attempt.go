package models

import "time"

// Verification kinds tracked by the sliding-window lockout counter.
const (
	AttemptKindTotpLogin   = "totp-login"
	AttemptKindTotpDisable = "totp-disable"
)

// VerifyAttempt is the sliding-window attempt counter for one
// (identity, verification-kind) pair. The counter keeps incrementing while
// the account is already in the cooldown state, so sustained hammering keeps
// sliding the window forward.
type VerifyAttempt struct {
	UserID        string
	Kind          string
	Attempts      int
	LastAttemptAt time.Time
}
