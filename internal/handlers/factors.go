package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/services"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
)

// TotpServiceInterface defines the TOTP factor lifecycle operations
type TotpServiceInterface interface {
	StartEnrollment(ctx context.Context, userID string) (*services.EnrollmentResult, error)
	ConfirmEnrollment(ctx context.Context, userID, code string) (*services.ConfirmResult, error)
	Disable(ctx context.Context, userID, passwordHash, code string) (*services.DisableResult, error)
}

// EmailFactorServiceInterface defines the email factor operations
type EmailFactorServiceInterface interface {
	Enable(ctx context.Context, userID string) (string, error)
	Disable(ctx context.Context, userID, passwordHash, emailCode string) error
}

// FactorHandler handles second-factor enrollment and teardown. Every route
// behind it requires a valid session.
type FactorHandler struct {
	totp  TotpServiceInterface
	email EmailFactorServiceInterface
}

// NewFactorHandler creates a new FactorHandler
func NewFactorHandler(totp TotpServiceInterface, email EmailFactorServiceInterface) *FactorHandler {
	return &FactorHandler{totp: totp, email: email}
}

// ConfirmTotpRequest represents the enrollment confirmation body
type ConfirmTotpRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTotpRequest represents the TOTP teardown body
type DisableTotpRequest struct {
	PasswordHash string `json:"password_hash" validate:"required,len=64,hexadecimal"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
}

// DisableEmailFactorRequest represents the email factor teardown body
type DisableEmailFactorRequest struct {
	PasswordHash string `json:"password_hash" validate:"required,len=64,hexadecimal"`
	EmailCode    string `json:"email_code" validate:"required,len=6,numeric"`
}

// StartTotp begins TOTP enrollment and returns the provisioning URI and QR
// code. Calling it again while enrollment is pending returns the same
// material.
func (h *FactorHandler) StartTotp(w http.ResponseWriter, r *http.Request) {
	userID := auth.IdentityFromContext(r.Context())

	result, err := h.totp.StartEnrollment(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"provisioning_uri": result.ProvisioningURI,
		"qr_code":          result.QRCode,
	})
}

// ConfirmTotp activates the pending factor. The backup and recovery codes in
// the response are shown exactly once and only hashes survive server-side.
func (h *FactorHandler) ConfirmTotp(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTotpRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := auth.IdentityFromContext(r.Context())

	result, err := h.totp.ConfirmEnrollment(r.Context(), userID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	backupCodes := make([]string, len(result.BackupCodes))
	for i, code := range result.BackupCodes {
		backupCodes[i] = code.Reveal()
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"backup_codes":  backupCodes,
		"recovery_code": result.RecoveryCode.Reveal(),
	})
}

// DisableTotp tears the TOTP factor down after a password and live-code
// check.
func (h *FactorHandler) DisableTotp(w http.ResponseWriter, r *http.Request) {
	var req DisableTotpRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := auth.IdentityFromContext(r.Context())

	result, err := h.totp.Disable(r.Context(), userID, req.PasswordHash, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if result.IsCoolingDown {
		pkghttp.WriteRateLimited(w, "Too many attempts. Please try again later.", result.RetryAfter)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// EnableEmailFactor turns on email one-time codes as the second factor.
func (h *FactorHandler) EnableEmailFactor(w http.ResponseWriter, r *http.Request) {
	userID := auth.IdentityFromContext(r.Context())

	email, err := h.email.Enable(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"email": email})
}

// DisableEmailFactor tears the email factor down after a password check and
// code redemption.
func (h *FactorHandler) DisableEmailFactor(w http.ResponseWriter, r *http.Request) {
	var req DisableEmailFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := auth.IdentityFromContext(r.Context())

	if err := h.email.Disable(r.Context(), userID, req.PasswordHash, req.EmailCode); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
