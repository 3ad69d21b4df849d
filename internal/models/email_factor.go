package models

import "time"

// EmailFactor marks an account as using email one-time codes as its second
// factor. The row is created and deleted atomically with the credential's
// factor type transition.
type EmailFactor struct {
	UserID    string
	Email     string // address codes are delivered to
	Enabled   bool
	CreatedAt time.Time
}
