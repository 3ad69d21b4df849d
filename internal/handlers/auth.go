package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/internal/services"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
)

// LoginServiceInterface defines the login operations the handler needs
type LoginServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	LoginWithChallenge(ctx context.Context, challengeToken string, req services.LoginRequest) (*services.LoginResult, error)
}

// AccountServiceInterface defines the account lifecycle operations
type AccountServiceInterface interface {
	RequestCode(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error)
	Register(ctx context.Context, email, passwordHash, code string) (*models.UserCredential, error)
	ResetPassword(ctx context.Context, email, code, newPasswordHash string) error
	ChangePassword(ctx context.Context, userID, currentHash, newHash, code string) error
	ChangeEmail(ctx context.Context, userID, newEmail, code string) error
	FactorStatus(ctx context.Context, identityOrEmail string) (*models.FactorStatus, error)
	Logout(ctx context.Context, userID string) error
}

// AuthHandler handles login, registration, and password recovery
type AuthHandler struct {
	login    LoginServiceInterface
	accounts AccountServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginServiceInterface, accounts AccountServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		login:    login,
		accounts: accounts,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login. The optional code
// fields make the one-call shape work for clients that collect the factor
// code up front.
type LoginRequest struct {
	Email        string `json:"email" validate:"required,email"`
	PasswordHash string `json:"password_hash" validate:"required,len=64,hexadecimal"`
	FactorCode   string `json:"factor_code,omitempty" validate:"omitempty,max=32"`
	EmailCode    string `json:"email_code,omitempty" validate:"omitempty,len=6,numeric"`
}

// LoginFactorRequest represents the second round trip of a two-step login
type LoginFactorRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	FactorCode     string `json:"factor_code,omitempty" validate:"omitempty,max=32"`
	EmailCode      string `json:"email_code,omitempty" validate:"omitempty,len=6,numeric"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email"`
	PasswordHash string `json:"password_hash" validate:"required,len=64,hexadecimal"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
}

// ResetPasswordRequest represents the forgot-password completion body
type ResetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Code            string `json:"code" validate:"required,min=6,max=32"`
	NewPasswordHash string `json:"new_password_hash" validate:"required,len=64,hexadecimal"`
}

// LoginResponse is the wire shape of a login outcome
type LoginResponse struct {
	Success           bool   `json:"success"`
	Token             string `json:"token,omitempty"`
	AuthenticatorType string `json:"authenticator_type,omitempty"`
	ChallengeToken    string `json:"challenge_token,omitempty"`
	IsCoolingDown     bool   `json:"is_cooling_down,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// writeLoginOutcome renders a login result, translating a lockout rejection
// into the cooling-down shape with a Retry-After hint.
func writeLoginOutcome(w http.ResponseWriter, result *services.LoginResult, err error) {
	if err != nil {
		var rateErr *models.RateLimitError
		if errors.As(err, &rateErr) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
			pkghttp.WriteJSON(w, http.StatusTooManyRequests, LoginResponse{
				IsCoolingDown:     true,
				RetryAfterSeconds: int(rateErr.RetryAfter.Seconds()),
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:           result.Success,
		Token:             result.Token,
		AuthenticatorType: string(result.AuthenticatorType),
		ChallengeToken:    result.ChallengeToken,
	})
}

// Login handles both login shapes: password-only accounts complete in one
// call; accounts with a factor either complete (code supplied) or receive a
// challenge token naming the factor.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.Login(r.Context(), services.LoginRequest{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: req.PasswordHash,
		FactorCode:   req.FactorCode,
		EmailCode:    req.EmailCode,
		IPAddress:    pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:    r.Header.Get("User-Agent"),
	})
	writeLoginOutcome(w, result, err)
}

// LoginFactor completes a two-step login using the challenge token from the
// first round trip.
func (h *AuthHandler) LoginFactor(w http.ResponseWriter, r *http.Request) {
	var req LoginFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.LoginWithChallenge(r.Context(), req.ChallengeToken, services.LoginRequest{
		FactorCode: req.FactorCode,
		EmailCode:  req.EmailCode,
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.Header.Get("User-Agent"),
	})
	writeLoginOutcome(w, result, err)
}

// Register creates a credential from an email, a client password hash, and
// the registration code previously mailed to the address.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	cred, err := h.accounts.Register(r.Context(), req.Email, req.PasswordHash, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":    cred.ID,
		"email": cred.Email,
	})
}

// ResetPassword completes the forgot-password flow.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Email, req.Code, req.NewPasswordHash); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
