package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rowanvale/sentinel/internal/handlers"
	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestRequestCode_PreAuthUsesTargetAddress(t *testing.T) {
	var gotPurpose, gotRef string
	mockAccounts := &handlers.MockAccountService{
		RequestCodeFunc: func(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error) {
			gotPurpose, gotRef = purpose, ref
			return &services.IssueResult{}, nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeRegistration,
		Target:  "new@example.com",
	})

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["success"])
	assert.False(t, resp["is_cooling_down"])
	assert.Equal(t, models.PurposeRegistration, gotPurpose)
	assert.Equal(t, "new@example.com", gotRef)
}

func TestRequestCode_PreAuthRequiresTarget(t *testing.T) {
	handler := handlers.NewAccountHandler(&handlers.MockAccountService{})
	req := handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeForgotPassword,
	})

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRequestCode_AuthenticatedUsesSessionIdentity(t *testing.T) {
	var gotRef string
	mockAccounts := &handlers.MockAccountService{
		RequestCodeFunc: func(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error) {
			gotRef = ref
			return &services.IssueResult{}, nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeChangePassword,
	}), "id-1")

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "id-1", gotRef)
}

func TestRequestCode_AuthenticatedPurposeWithoutSession(t *testing.T) {
	handler := handlers.NewAccountHandler(&handlers.MockAccountService{})
	req := handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeChangePassword,
	})

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestRequestCode_ChangeEmailTargetsNewAddress(t *testing.T) {
	var gotRef string
	mockAccounts := &handlers.MockAccountService{
		RequestCodeFunc: func(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error) {
			gotRef = ref
			return &services.IssueResult{}, nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeChangeEmail,
		Target:  "next@example.com",
	}), "id-1")

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "next@example.com", gotRef)
}

func TestRequestCode_CoolingDownIsNotAnError(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		RequestCodeFunc: func(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error) {
			return &services.IssueResult{IsCoolingDown: true}, nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeRegistration,
		Target:  "new@example.com",
	})

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["success"])
	assert.True(t, resp["is_cooling_down"])
}

func TestRequestCode_QuotaExceeded(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		RequestCodeFunc: func(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error) {
			return nil, &models.RateLimitError{RetryAfter: 2 * time.Hour}
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: models.PurposeRegistration,
		Target:  "new@example.com",
	})

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limited")
}

func TestRequestCode_UnknownPurpose(t *testing.T) {
	handler := handlers.NewAccountHandler(&handlers.MockAccountService{})
	req := handlers.NewTestRequest(t, "POST", "/auth/code", handlers.RequestCodeRequest{
		Purpose: "summon-admin",
		Target:  "new@example.com",
	})

	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestFactorStatus_ByQueryParameter(t *testing.T) {
	enrolledAt := "2026-08-01T12:00:00Z"
	mockAccounts := &handlers.MockAccountService{
		FactorStatusFunc: func(ctx context.Context, identityOrEmail string) (*models.FactorStatus, error) {
			assert.Equal(t, "user@example.com", identityOrEmail)
			return &models.FactorStatus{Enabled: true, Type: models.FactorTOTP, EnrolledAt: &enrolledAt}, nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.NewTestRequest(t, "GET", "/auth/factor-status?identity=user@example.com", nil)

	w := httptest.NewRecorder()
	handler.FactorStatus(w, req)

	var resp models.FactorStatus
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Enabled)
	assert.Equal(t, models.FactorTOTP, resp.Type)
	assert.NotNil(t, resp.EnrolledAt)
}

func TestFactorStatus_FallsBackToSessionIdentity(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		FactorStatusFunc: func(ctx context.Context, identityOrEmail string) (*models.FactorStatus, error) {
			assert.Equal(t, "id-1", identityOrEmail)
			return &models.FactorStatus{Enabled: false, Type: models.FactorNone}, nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "GET", "/auth/factor-status", nil), "id-1")

	w := httptest.NewRecorder()
	handler.FactorStatus(w, req)

	var resp models.FactorStatus
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp.Enabled)
}

func TestFactorStatus_NoIdentityAnywhere(t *testing.T) {
	handler := handlers.NewAccountHandler(&handlers.MockAccountService{})
	req := handlers.NewTestRequest(t, "GET", "/auth/factor-status", nil)

	w := httptest.NewRecorder()
	handler.FactorStatus(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestChangePassword_Success(t *testing.T) {
	var gotUserID string
	mockAccounts := &handlers.MockAccountService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentHash, newHash, code string) error {
			gotUserID = userID
			return nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "PUT", "/account/password", handlers.ChangePasswordRequest{
		CurrentPasswordHash: testPasswordHash,
		NewPasswordHash:     testPasswordHash,
		Code:                "123456",
	}), "id-1")

	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["success"])
	assert.Equal(t, "id-1", gotUserID)
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentHash, newHash, code string) error {
			return models.ErrUnauthorized
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "PUT", "/account/password", handlers.ChangePasswordRequest{
		CurrentPasswordHash: testPasswordHash,
		NewPasswordHash:     testPasswordHash,
		Code:                "123456",
	}), "id-1")

	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestChangeEmail_Success(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		ChangeEmailFunc: func(ctx context.Context, userID, newEmail, code string) error {
			assert.Equal(t, "next@example.com", newEmail)
			return nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "PUT", "/account/email", handlers.ChangeEmailRequest{
		NewEmail: "next@example.com",
		Code:     "Q7K2M9P4X1WZ",
	}), "id-1")

	w := httptest.NewRecorder()
	handler.ChangeEmail(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["success"])
}

func TestChangeEmail_BlockedWhileEmailFactorActive(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		ChangeEmailFunc: func(ctx context.Context, userID, newEmail, code string) error {
			return models.ErrFactorConflict
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "PUT", "/account/email", handlers.ChangeEmailRequest{
		NewEmail: "next@example.com",
		Code:     "Q7K2M9P4X1WZ",
	}), "id-1")

	w := httptest.NewRecorder()
	handler.ChangeEmail(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestLogout_ClearsSession(t *testing.T) {
	var gotUserID string
	mockAccounts := &handlers.MockAccountService{
		LogoutFunc: func(ctx context.Context, userID string) error {
			gotUserID = userID
			return nil
		},
	}

	handler := handlers.NewAccountHandler(mockAccounts)
	req := handlers.WithIdentity(handlers.NewTestRequest(t, "POST", "/account/logout", nil), "id-1")

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "id-1", gotUserID)
}
