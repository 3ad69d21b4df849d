package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rowanvale/sentinel/internal/models"
)

// CredentialFetcher retrieves a credential record by identity key.
type CredentialFetcher interface {
	GetByID(ctx context.Context, id string) (*models.UserCredential, error)
}

// SessionValidator is the single bearer-validation primitive. Every component
// that needs to check a session token goes through Verify; nothing else
// compares tokens.
type SessionValidator struct {
	creds CredentialFetcher
}

func NewSessionValidator(creds CredentialFetcher) *SessionValidator {
	return &SessionValidator{creds: creds}
}

// Verify checks an identity+token pair. It fails closed: a missing record,
// an empty stored token, or any storage error all return false.
func (v *SessionValidator) Verify(ctx context.Context, identity, token string) bool {
	if identity == "" || token == "" {
		return false
	}

	cred, err := v.creds.GetByID(ctx, identity)
	if err != nil {
		return false
	}

	if cred.SessionToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cred.SessionToken), []byte(token)) == 1
}

// ComposeBearer packs identity and session token into the single bearer value
// handed to clients. Identity keys are UUIDs and never contain a dot.
func ComposeBearer(identity, token string) string {
	return identity + "." + token
}

// SplitBearer undoes ComposeBearer.
func SplitBearer(bearer string) (identity, token string, ok bool) {
	identity, token, ok = strings.Cut(bearer, ".")
	if identity == "" || token == "" {
		return "", "", false
	}
	return identity, token, ok
}

// ChallengeTokenManager issues and validates the short-lived JWT handed back
// between a successful password check and the second-factor step.
type ChallengeTokenManager struct {
	secret string
	expiry time.Duration
}

func NewChallengeTokenManager(secret string, expiry time.Duration) *ChallengeTokenManager {
	return &ChallengeTokenManager{secret: secret, expiry: expiry}
}

// Issue creates a challenge token for the given identity and factor.
func (cm *ChallengeTokenManager) Issue(userID string, factor models.FactorType) (string, error) {
	claims := &models.ChallengeClaims{
		Type:   "factor-challenge",
		UserID: userID,
		Factor: factor,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cm.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return tokenString, nil
}

// Validate parses and verifies a challenge token.
func (cm *ChallengeTokenManager) Validate(tokenString string) (*models.ChallengeClaims, error) {
	claims := &models.ChallengeClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge token: %w", err)
	}

	if !token.Valid || claims.Type != "factor-challenge" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
