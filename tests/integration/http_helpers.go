package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/config"
	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/handlers"
	middlewareCustom "github.com/rowanvale/sentinel/internal/middleware"
	"github.com/rowanvale/sentinel/internal/routes"
	"github.com/rowanvale/sentinel/internal/services"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
	pkglogger "github.com/rowanvale/sentinel/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

// Send records the email instead of dispatching it
func (m *MockEmailService) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentEmails = append(m.SentEmails, SentEmail{
		To:      to,
		Subject: subject,
		Body:    htmlBody,
	})
	return nil
}

// GetLastEmail returns the most recent email sent
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

var codePattern = regexp.MustCompile(`<strong>([0-9A-Z]+)</strong>`)

// ExtractCode pulls the verification code out of a captured email body.
func (e *SentEmail) ExtractCode() string {
	match := codePattern.FindStringSubmatch(e.Body)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	Config       *config.Config

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server with real database + mocked email
func NewTestServer(testDB *TestDB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			ChallengeSecret:    "test-challenge-secret-32-chars!!",
			ChallengeExpiry:    5 * time.Minute,
			TotpIssuer:         "SentinelTest",
			TotpSkew:           1,
			TotpEncryptionKey:  []byte("test-totp-encryption-key-32chars"),
			LockoutMaxAttempts: 5,
			LockoutWindow:      1 * time.Hour,
			CodeCooldown:       55 * time.Second,
			BackupCodeCount:    5,
			CleanupInterval:    1 * time.Hour,

			TimingDelayBaseMs:    1,
			TimingDelayRandomMs:  1,
			TimingDelayOnSuccess: false,
		},
		Email: config.EmailConfig{
			FromAddress: "noreply@test.local",
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
	}

	store := testDB.Store

	mockEmail := &MockEmailService{SentEmails: []SentEmail{}}

	sessionValidator := auth.NewSessionValidator(store.Credentials())
	challengeManager := auth.NewChallengeTokenManager(cfg.Auth.ChallengeSecret, cfg.Auth.ChallengeExpiry)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TotpEncryptionKey, cfg.Auth.TotpIssuer, cfg.Auth.TotpSkew)
	if err != nil {
		logger.Error("failed to create TOTP manager", slog.Any("error", err))
		return nil
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	lockoutService := services.NewLockoutService(services.LockoutConfig{
		MaxAttempts: cfg.Auth.LockoutMaxAttempts,
		Window:      cfg.Auth.LockoutWindow,
	}, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	codeService := services.NewVerificationCodeService(
		store,
		mockEmail,
		services.NewTemplateResolver(),
		cfg.Auth.CodeCooldown,
		services.DefaultCodePolicies(),
		logger,
	)
	totpService := services.NewTotpService(store, totpManager, lockoutService, cfg.Auth.BackupCodeCount, logger)
	emailFactorService := services.NewEmailFactorService(store, codeService, logger)
	loginService := services.NewLoginService(store, challengeManager, totpManager, lockoutService, codeService, timingDelay, auditLogger, logger)
	accountService := services.NewAccountService(store, codeService, auditLogger, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, accountService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService)
	factorHandler := handlers.NewFactorHandler(totpService, emailFactorService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, accountHandler, factorHandler, sessionValidator)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           testDB.DB,
		EmailService: mockEmail,
		Config:       cfg,
		logger:       logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a bearer token
func (ts *TestServer) RequestWithAuth(method, path, bearer string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + bearer,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts error message from error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
