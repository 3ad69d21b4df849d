package models

import (
	"time"
)

// TotpFactor holds the per-account TOTP enrollment state.
// Created disabled (pending) when enrollment starts; flipped to enabled with
// backup and recovery hashes populated on confirmation; deleted on disable and
// on recovery-code redemption.
type TotpFactor struct {
	UserID           string
	SecretEncrypted  []byte // AES-256-GCM encrypted base32 TOTP secret
	SecretNonce      []byte // GCM nonce (12 bytes)
	Enabled          bool
	BackupCodes      []BackupCodeEntry
	RecoveryCodeHash string // bcrypt hash, empty while pending
	CreatedAt        time.Time
	ConfirmedAt      *time.Time
}

// BackupCodeEntry is a single pre-generated backup code, consumable once.
type BackupCodeEntry struct {
	CodeHash string     `json:"code_hash"`
	UsedAt   *time.Time `json:"used_at"`
}

// IsPending reports whether enrollment has started but not been confirmed.
func (f *TotpFactor) IsPending() bool {
	return !f.Enabled
}

// UnusedBackupCodes returns how many backup codes remain consumable.
func (f *TotpFactor) UnusedBackupCodes() int {
	n := 0
	for _, entry := range f.BackupCodes {
		if entry.UsedAt == nil {
			n++
		}
	}
	return n
}
