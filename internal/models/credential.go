package models

import (
	"time"
)

// FactorType identifies which second factor, if any, is active on an account.
type FactorType string

const (
	FactorNone  FactorType = "none"
	FactorTOTP  FactorType = "totp"
	FactorEmail FactorType = "email"
)

// Valid reports whether ft is one of the known factor types.
func (ft FactorType) Valid() bool {
	switch ft {
	case FactorNone, FactorTOTP, FactorEmail:
		return true
	}
	return false
}

// UserCredential is the identity record: password hash, bearer session token,
// and the currently active second-factor type. Exactly one factor type is
// active at any time; concrete factor records live in their own tables.
type UserCredential struct {
	ID           string
	Email        string // stored lowercase, unique
	PasswordHash string // bcrypt over the client-side password hash
	SessionToken string // opaque bearer token, empty when logged out
	FactorType   FactorType
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
