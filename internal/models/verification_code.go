package models

import (
	"crypto/subtle"
	"time"
)

// Verification code purposes. Each purpose is an independent namespace with
// its own daily quota and code shape.
const (
	PurposeRegistration       = "registration"
	PurposeLoginEmail         = "login-email"
	PurposeChangeEmail        = "change-email"
	PurposeChangePassword     = "change-password"
	PurposeForgotPassword     = "forgot-password"
	PurposeEnableEmailFactor  = "enable-email-factor"
	PurposeDisableEmailFactor = "disable-email-factor"
)

// VerificationCode is the single outstanding one-time code for a
// (purpose, account-or-email) key. A new issuance overwrites the previous
// record, invalidating the old code.
type VerificationCode struct {
	Purpose       string
	AccountRef    string // identity key or email address, depending on purpose
	Code          string
	ExpiresAt     time.Time
	AttemptsToday int       // issuances counted against the daily quota
	LastRequestAt time.Time // drives the issuance cooldown
}

// IsExpired reports whether the code is past its expiry at the given instant.
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Matches compares a submitted code in constant time.
func (c *VerificationCode) Matches(code string) bool {
	return subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) == 1
}
