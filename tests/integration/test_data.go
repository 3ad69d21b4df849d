package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TestAccount generates unique test account credentials using timestamp.
// The returned hash is the client-side SHA-256 the API expects.
func TestAccount(suffix string) (email, passwordHash string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	passwordHash = ClientHash(fmt.Sprintf("TestPassword123!-%s", suffix))
	return
}

// ClientHash mimics what a client does before calling the API: SHA-256 over
// the plaintext password, hex encoded.
func ClientHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
