package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/models"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
)

// AccountHandler handles verification-code requests, factor status, and
// authenticated credential changes.
type AccountHandler struct {
	accounts AccountServiceInterface
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts AccountServiceInterface) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RequestCodeRequest represents the request body for a verification code.
// Target is an email address for the pre-auth purposes and ignored for
// authenticated ones, where the session identity is used instead.
type RequestCodeRequest struct {
	Purpose string `json:"purpose" validate:"required,oneof=registration login-email change-email change-password forgot-password enable-email-factor disable-email-factor"`
	Target  string `json:"target,omitempty" validate:"omitempty,email"`
	Locale  string `json:"locale,omitempty" validate:"omitempty,max=8"`
}

// ChangePasswordRequest represents the authenticated password change body
type ChangePasswordRequest struct {
	CurrentPasswordHash string `json:"current_password_hash" validate:"required,len=64,hexadecimal"`
	NewPasswordHash     string `json:"new_password_hash" validate:"required,len=64,hexadecimal"`
	Code                string `json:"code" validate:"required,len=6,numeric"`
}

// ChangeEmailRequest represents the authenticated email change body
type ChangeEmailRequest struct {
	NewEmail string `json:"new_email" validate:"required,email"`
	Code     string `json:"code" validate:"required,min=6,max=32"`
}

// preAuthPurposes are the purposes addressable without a session; everything
// else resolves against the authenticated identity.
var preAuthPurposes = map[string]bool{
	models.PurposeRegistration:   true,
	models.PurposeLoginEmail:     true,
	models.PurposeForgotPassword: true,
}

// RequestCode issues a verification code for any purpose. Pre-auth purposes
// take the target address from the body; authenticated purposes require a
// session and use its identity.
func (h *AccountHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var ref string
	if preAuthPurposes[req.Purpose] {
		if req.Target == "" {
			pkghttp.WriteBadRequest(w, "target email is required for this purpose")
			return
		}
		ref = req.Target
	} else {
		ref = auth.IdentityFromContext(r.Context())
		if ref == "" {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		// change-email sends the code to the address being claimed
		if req.Purpose == models.PurposeChangeEmail {
			if req.Target == "" {
				pkghttp.WriteBadRequest(w, "target email is required for this purpose")
				return
			}
			ref = req.Target
		}
	}

	result, err := h.accounts.RequestCode(r.Context(), req.Purpose, ref, req.Locale)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{
		"success":         true,
		"is_cooling_down": result.IsCoolingDown,
	})
}

// FactorStatus reports which second factor an account has enabled. The
// account is addressed by the identity query parameter (identity key or
// email); with a session and no parameter, the session identity is used.
func (h *AccountHandler) FactorStatus(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("identity"))
	if ref == "" {
		ref = auth.IdentityFromContext(r.Context())
	}
	if ref == "" {
		pkghttp.WriteBadRequest(w, "identity is required")
		return
	}

	status, err := h.accounts.FactorStatus(r.Context(), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// ChangePassword rewrites the stored password hash for the authenticated
// account.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := auth.IdentityFromContext(r.Context())

	if err := h.accounts.ChangePassword(r.Context(), userID, req.CurrentPasswordHash, req.NewPasswordHash, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ChangeEmail rewrites the account address after the new address proved
// ownership of the change-email code.
func (h *AccountHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req ChangeEmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := auth.IdentityFromContext(r.Context())

	if err := h.accounts.ChangeEmail(r.Context(), userID, req.NewEmail, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Logout clears the stored session token for the authenticated account.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := auth.IdentityFromContext(r.Context())

	if err := h.accounts.Logout(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
