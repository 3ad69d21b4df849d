package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost         = 14 // OWASP 2026 recommendation
	SessionTokenLength = 32 // 256 bits

	// Clients submit a hex-encoded SHA-256 of the password; the server only
	// ever sees and stores a bcrypt of that hash.
	ClientHashLength = 64
)

// HashPassword bcrypts the client-supplied password hash for storage.
func HashPassword(clientHash string) (string, error) {
	if clientHash == "" {
		return "", fmt.Errorf("password hash cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(clientHash), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword checks a submitted client hash against the stored bcrypt.
func ComparePassword(storedHash, clientHash string) error {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(clientHash))
}

// ValidateClientHash rejects submissions that are not a hex SHA-256 digest
// before any store access happens.
func ValidateClientHash(clientHash string) error {
	if len(clientHash) != ClientHashLength {
		return fmt.Errorf("password hash must be %d hex characters", ClientHashLength)
	}
	for _, r := range clientHash {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isHex {
			return fmt.Errorf("password hash must be hex encoded")
		}
	}
	return nil
}

// GenerateSessionToken returns a fresh opaque bearer token.
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, SessionTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
