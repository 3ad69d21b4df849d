package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// ChallengeClaims is the short-lived JWT handed back when a password check
// succeeds but a second factor is still required. It carries only which
// factor the client must satisfy next.
type ChallengeClaims struct {
	Type   string     `json:"type"` // always "factor-challenge"
	UserID string     `json:"user_id"`
	Factor FactorType `json:"factor"`
	jwt.RegisteredClaims
}

// FactorStatus describes the second-factor state of an account, as exposed by
// the factor-status query.
type FactorStatus struct {
	Enabled    bool       `json:"enabled"`
	Type       FactorType `json:"type"`
	EnrolledAt *string    `json:"enrolled_at,omitempty"`
}
