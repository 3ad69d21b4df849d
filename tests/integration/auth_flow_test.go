package integration

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testDB     *TestDB
	testServer *TestServer
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}
	testDB = db
	testServer = NewTestServer(db)

	code := m.Run()

	testServer.Close()
	testDB.Teardown(ctx)
	os.Exit(code)
}

func requireIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	require.NoError(t, testDB.CleanupTables(context.Background()))
}

func TestRegistrationAndLoginFlow(t *testing.T) {
	requireIntegration(t)

	email, passwordHash := TestAccount("register")

	// Request the registration code and read it from the captured mail
	resp, err := testServer.Request("POST", "/auth/code", map[string]string{
		"purpose": "registration",
		"target":  email,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	mail := testServer.EmailService.GetLastEmail()
	require.NotNil(t, mail)
	assert.Equal(t, email, mail.To)
	code := mail.ExtractCode()
	require.Len(t, code, 6)

	// Complete registration
	resp, err = testServer.Request("POST", "/auth/register", map[string]string{
		"email":         email,
		"password_hash": passwordHash,
		"code":          code,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// The registration code is one-shot
	resp, err = testServer.Request("POST", "/auth/register", map[string]string{
		"email":         email,
		"password_hash": passwordHash,
		"code":          code,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Password-only login completes in one call
	var login struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	resp, err = testServer.Request("POST", "/auth/login", map[string]string{
		"email":         email,
		"password_hash": passwordHash,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, ParseJSONResponse(resp, &login))
	assert.True(t, login.Success)
	require.NotEmpty(t, login.Token)

	// Bearer grants access to protected routes
	resp, err = testServer.RequestWithAuth("POST", "/account/logout", login.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	// Logout invalidated the bearer
	resp, err = testServer.RequestWithAuth("POST", "/account/logout", login.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogin_WrongPasswordIsGeneric(t *testing.T) {
	requireIntegration(t)

	email, passwordHash := TestAccount("badpw")
	_, err := SeedCredential(context.Background(), testDB.Pool, email, passwordHash)
	require.NoError(t, err)

	wrongHash := ClientHash("not-the-password")

	resp, err := testServer.Request("POST", "/auth/login", map[string]string{
		"email":         email,
		"password_hash": wrongHash,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	msgWrongPassword, err := GetErrorMessage(resp)
	require.NoError(t, err)

	resp, err = testServer.Request("POST", "/auth/login", map[string]string{
		"email":         "ghost-" + email,
		"password_hash": wrongHash,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	msgUnknownAccount, err := GetErrorMessage(resp)
	require.NoError(t, err)
	assert.Equal(t, msgWrongPassword, msgUnknownAccount)
}

func TestEmailFactorLoginFlow(t *testing.T) {
	requireIntegration(t)

	ctx := context.Background()
	email, passwordHash := TestAccount("emailfactor")
	cred, err := SeedCredential(ctx, testDB.Pool, email, passwordHash)
	require.NoError(t, err)

	// Log in and enable the email factor
	var login struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	resp, err := testServer.Request("POST", "/auth/login", map[string]string{
		"email":         email,
		"password_hash": passwordHash,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, ParseJSONResponse(resp, &login))
	require.True(t, login.Success)

	resp, err = testServer.RequestWithAuth("POST", "/account/email-factor", login.Token, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var enabled map[string]string
	require.NoError(t, ParseJSONResponse(resp, &enabled))
	assert.Equal(t, email, enabled["email"])

	// A fresh login now stops at the factor challenge
	var challenge struct {
		Success           bool   `json:"success"`
		AuthenticatorType string `json:"authenticator_type"`
		ChallengeToken    string `json:"challenge_token"`
	}
	resp, err = testServer.Request("POST", "/auth/login", map[string]string{
		"email":         email,
		"password_hash": passwordHash,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, ParseJSONResponse(resp, &challenge))
	assert.False(t, challenge.Success)
	assert.Equal(t, "email", challenge.AuthenticatorType)
	require.NotEmpty(t, challenge.ChallengeToken)

	// A known login code avoids coupling this test to the issuance cooldown
	require.NoError(t, SeedVerificationCode(ctx, testDB.Pool, "login-email", cred.ID, "424242"))

	var completed struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	resp, err = testServer.Request("POST", "/auth/login/factor", map[string]string{
		"challenge_token": challenge.ChallengeToken,
		"email_code":      "424242",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, ParseJSONResponse(resp, &completed))
	assert.True(t, completed.Success)
	assert.NotEmpty(t, completed.Token)

	// The login code is one-shot
	resp, err = testServer.Request("POST", "/auth/login/factor", map[string]string{
		"challenge_token": challenge.ChallengeToken,
		"email_code":      "424242",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
