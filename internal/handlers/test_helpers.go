package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/internal/services"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithIdentity places a validated identity on the request context, the way
// the session middleware would after a successful bearer check.
func WithIdentity(req *http.Request, identity string) *http.Request {
	return req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc              func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	LoginWithChallengeFunc func(ctx context.Context, challengeToken string, req services.LoginRequest) (*services.LoginResult, error)
}

func (m *MockLoginService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockLoginService) LoginWithChallenge(ctx context.Context, challengeToken string, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginWithChallengeFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginWithChallengeFunc(ctx, challengeToken, req)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	RequestCodeFunc    func(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error)
	RegisterFunc       func(ctx context.Context, email, passwordHash, code string) (*models.UserCredential, error)
	ResetPasswordFunc  func(ctx context.Context, email, code, newPasswordHash string) error
	ChangePasswordFunc func(ctx context.Context, userID, currentHash, newHash, code string) error
	ChangeEmailFunc    func(ctx context.Context, userID, newEmail, code string) error
	FactorStatusFunc   func(ctx context.Context, identityOrEmail string) (*models.FactorStatus, error)
	LogoutFunc         func(ctx context.Context, userID string) error
}

func (m *MockAccountService) RequestCode(ctx context.Context, purpose, ref, locale string) (*services.IssueResult, error) {
	if m.RequestCodeFunc == nil {
		return &services.IssueResult{}, nil
	}
	return m.RequestCodeFunc(ctx, purpose, ref, locale)
}

func (m *MockAccountService) Register(ctx context.Context, email, passwordHash, code string) (*models.UserCredential, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrInvalidCode
	}
	return m.RegisterFunc(ctx, email, passwordHash, code)
}

func (m *MockAccountService) ResetPassword(ctx context.Context, email, code, newPasswordHash string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrInvalidCode
	}
	return m.ResetPasswordFunc(ctx, email, code, newPasswordHash)
}

func (m *MockAccountService) ChangePassword(ctx context.Context, userID, currentHash, newHash, code string) error {
	if m.ChangePasswordFunc == nil {
		return models.ErrInvalidCode
	}
	return m.ChangePasswordFunc(ctx, userID, currentHash, newHash, code)
}

func (m *MockAccountService) ChangeEmail(ctx context.Context, userID, newEmail, code string) error {
	if m.ChangeEmailFunc == nil {
		return models.ErrInvalidCode
	}
	return m.ChangeEmailFunc(ctx, userID, newEmail, code)
}

func (m *MockAccountService) FactorStatus(ctx context.Context, identityOrEmail string) (*models.FactorStatus, error) {
	if m.FactorStatusFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.FactorStatusFunc(ctx, identityOrEmail)
}

func (m *MockAccountService) Logout(ctx context.Context, userID string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID)
}

// MockTotpService implements TotpServiceInterface for testing
type MockTotpService struct {
	StartEnrollmentFunc   func(ctx context.Context, userID string) (*services.EnrollmentResult, error)
	ConfirmEnrollmentFunc func(ctx context.Context, userID, code string) (*services.ConfirmResult, error)
	DisableFunc           func(ctx context.Context, userID, passwordHash, code string) (*services.DisableResult, error)
}

func (m *MockTotpService) StartEnrollment(ctx context.Context, userID string) (*services.EnrollmentResult, error) {
	if m.StartEnrollmentFunc == nil {
		return nil, models.ErrFactorConflict
	}
	return m.StartEnrollmentFunc(ctx, userID)
}

func (m *MockTotpService) ConfirmEnrollment(ctx context.Context, userID, code string) (*services.ConfirmResult, error) {
	if m.ConfirmEnrollmentFunc == nil {
		return nil, models.ErrInvalidCode
	}
	return m.ConfirmEnrollmentFunc(ctx, userID, code)
}

func (m *MockTotpService) Disable(ctx context.Context, userID, passwordHash, code string) (*services.DisableResult, error) {
	if m.DisableFunc == nil {
		return nil, models.ErrInvalidCode
	}
	return m.DisableFunc(ctx, userID, passwordHash, code)
}

// MockEmailFactorService implements EmailFactorServiceInterface for testing
type MockEmailFactorService struct {
	EnableFunc  func(ctx context.Context, userID string) (string, error)
	DisableFunc func(ctx context.Context, userID, passwordHash, emailCode string) error
}

func (m *MockEmailFactorService) Enable(ctx context.Context, userID string) (string, error) {
	if m.EnableFunc == nil {
		return "", models.ErrFactorConflict
	}
	return m.EnableFunc(ctx, userID)
}

func (m *MockEmailFactorService) Disable(ctx context.Context, userID, passwordHash, emailCode string) error {
	if m.DisableFunc == nil {
		return models.ErrInvalidCode
	}
	return m.DisableFunc(ctx, userID, passwordHash, emailCode)
}
