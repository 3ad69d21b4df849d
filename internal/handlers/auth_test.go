package handlers_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rowanvale/sentinel/internal/handlers"
	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/internal/services"
	"github.com/stretchr/testify/assert"
)

const testPasswordHash = "a3f5b8c2d9e1f4a7b6c5d8e2f1a4b7c6d5e8f2a1b4c7d6e5f8a2b1c4d7e6f5a8"

func TestLogin_PasswordOnlySuccess(t *testing.T) {
	mockLogin := &handlers.MockLoginService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			assert.Equal(t, "user@example.com", req.Email)
			return &services.LoginResult{
				Success:           true,
				Token:             "id-1.token-1",
				AuthenticatorType: models.FactorNone,
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockLogin, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:        "User@Example.com",
		PasswordHash: testPasswordHash,
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "id-1.token-1", resp.Token)
	assert.Empty(t, resp.ChallengeToken)
}

func TestLogin_FactorChallenge(t *testing.T) {
	mockLogin := &handlers.MockLoginService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return &services.LoginResult{
				AuthenticatorType: models.FactorTOTP,
				ChallengeToken:    "challenge-jwt",
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockLogin, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:        "user@example.com",
		PasswordHash: testPasswordHash,
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Token)
	assert.Equal(t, "totp", resp.AuthenticatorType)
	assert.Equal(t, "challenge-jwt", resp.ChallengeToken)
}

func TestLogin_AuthenticationFailed(t *testing.T) {
	mockLogin := &handlers.MockLoginService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, models.ErrUnauthorized
		},
	}

	handler := handlers.NewAuthHandler(mockLogin, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:        "user@example.com",
		PasswordHash: testPasswordHash,
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogin_CoolingDown(t *testing.T) {
	mockLogin := &handlers.MockLoginService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, &models.RateLimitError{RetryAfter: time.Hour}
		},
	}

	handler := handlers.NewAuthHandler(mockLogin, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:        "user@example.com",
		PasswordHash: testPasswordHash,
		FactorCode:   "123456",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 429, &resp)
	assert.True(t, resp.IsCoolingDown)
	assert.Equal(t, 3600, resp.RetryAfterSeconds)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
}

func TestLogin_RejectsMalformedPasswordHash(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:        "user@example.com",
		PasswordHash: "hunter2",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestLoginFactor_CompletesChallenge(t *testing.T) {
	mockLogin := &handlers.MockLoginService{
		LoginWithChallengeFunc: func(ctx context.Context, challengeToken string, req services.LoginRequest) (*services.LoginResult, error) {
			assert.Equal(t, "challenge-jwt", challengeToken)
			assert.Equal(t, "123456", req.FactorCode)
			return &services.LoginResult{
				Success:           true,
				Token:             "id-1.token-2",
				AuthenticatorType: models.FactorTOTP,
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockLogin, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login/factor", handlers.LoginFactorRequest{
		ChallengeToken: "challenge-jwt",
		FactorCode:     "123456",
	})

	w := httptest.NewRecorder()
	handler.LoginFactor(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "id-1.token-2", resp.Token)
}

func TestLoginFactor_MissingToken(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login/factor", handlers.LoginFactorRequest{
		FactorCode: "123456",
	})

	w := httptest.NewRecorder()
	handler.LoginFactor(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRegister_Success(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		RegisterFunc: func(ctx context.Context, email, passwordHash, code string) (*models.UserCredential, error) {
			return &models.UserCredential{ID: "id-1", Email: strings.ToLower(email)}, nil
		},
	}

	handler := handlers.NewAuthHandler(nil, mockAccounts, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:        "new@example.com",
		PasswordHash: testPasswordHash,
		Code:         "123456",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "id-1", resp["id"])
	assert.Equal(t, "new@example.com", resp["email"])
}

func TestRegister_WrongCode(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		RegisterFunc: func(ctx context.Context, email, passwordHash, code string) (*models.UserCredential, error) {
			return nil, models.ErrInvalidCode
		},
	}

	handler := handlers.NewAuthHandler(nil, mockAccounts, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:        "new@example.com",
		PasswordHash: testPasswordHash,
		Code:         "000000",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestResetPassword_Success(t *testing.T) {
	var gotEmail, gotCode string
	mockAccounts := &handlers.MockAccountService{
		ResetPasswordFunc: func(ctx context.Context, email, code, newPasswordHash string) error {
			gotEmail, gotCode = email, code
			return nil
		},
	}

	handler := handlers.NewAuthHandler(nil, mockAccounts, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/password/reset", handlers.ResetPasswordRequest{
		Email:           "user@example.com",
		Code:            "Q7K2M9P4X1WZ",
		NewPasswordHash: testPasswordHash,
	})

	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["success"])
	assert.Equal(t, "user@example.com", gotEmail)
	assert.Equal(t, "Q7K2M9P4X1WZ", gotCode)
}

func TestResetPassword_UnknownEmailStaysGeneric(t *testing.T) {
	mockAccounts := &handlers.MockAccountService{
		ResetPasswordFunc: func(ctx context.Context, email, code, newPasswordHash string) error {
			return models.ErrInvalidCode
		},
	}

	handler := handlers.NewAuthHandler(nil, mockAccounts, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/password/reset", handlers.ResetPasswordRequest{
		Email:           "ghost@example.com",
		Code:            "Q7K2M9P4X1WZ",
		NewPasswordHash: testPasswordHash,
	})

	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
