package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/pkg/logger"
)

// memStore is an in-memory Store for service tests. Data maps act as the
// tables; the Func fields inject failures.
type memStore struct {
	creds        map[string]*models.UserCredential // by id
	totpFactors  map[string]*models.TotpFactor
	emailFactors map[string]*models.EmailFactor
	codes        map[string]*models.VerificationCode // by purpose|ref
	attempts     map[string]*models.VerifyAttempt    // by userID|kind

	// error injection hooks; nil means the in-memory behavior runs
	GetCredentialFunc        func(ctx context.Context, id string) (*models.UserCredential, error)
	GetCredentialByEmailFunc func(ctx context.Context, email string) (*models.UserCredential, error)
	UpsertCodeFunc           func(ctx context.Context, code *models.VerificationCode) error
	DeleteFactorFunc         func(ctx context.Context, userID string) error
	InTxFunc                 func(ctx context.Context, fn func(Store) error) error
}

func newMemStore() *memStore {
	return &memStore{
		creds:        make(map[string]*models.UserCredential),
		totpFactors:  make(map[string]*models.TotpFactor),
		emailFactors: make(map[string]*models.EmailFactor),
		codes:        make(map[string]*models.VerificationCode),
		attempts:     make(map[string]*models.VerifyAttempt),
	}
}

func (m *memStore) Credentials() CredentialStore          { return &memCredentials{m} }
func (m *memStore) TotpFactors() TotpFactorStore          { return &memTotpFactors{m} }
func (m *memStore) EmailFactors() EmailFactorStore        { return &memEmailFactors{m} }
func (m *memStore) VerificationCodes() VerificationCodeStore { return &memCodes{m} }
func (m *memStore) VerifyAttempts() VerifyAttemptStore    { return &memAttempts{m} }

// InTx runs fn against the same store. Rollback is not simulated; tests that
// care about abort behavior inject errors and assert on the returned error.
func (m *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	if m.InTxFunc != nil {
		return m.InTxFunc(ctx, fn)
	}
	return fn(m)
}

func (m *memStore) addCredential(email, passwordHash string, factorType models.FactorType) *models.UserCredential {
	cred := &models.UserCredential{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		FactorType:   factorType,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.creds[cred.ID] = cred
	return cred
}

type memCredentials struct{ m *memStore }

func (r *memCredentials) GetByID(ctx context.Context, id string) (*models.UserCredential, error) {
	if r.m.GetCredentialFunc != nil {
		return r.m.GetCredentialFunc(ctx, id)
	}
	cred, ok := r.m.creds[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (r *memCredentials) GetByEmail(ctx context.Context, email string) (*models.UserCredential, error) {
	if r.m.GetCredentialByEmailFunc != nil {
		return r.m.GetCredentialByEmailFunc(ctx, email)
	}
	for _, cred := range r.m.creds {
		if cred.Email == email {
			copied := *cred
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memCredentials) Create(ctx context.Context, cred *models.UserCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	for _, existing := range r.m.creds {
		if existing.Email == cred.Email {
			return models.ErrConflict
		}
	}
	copied := *cred
	r.m.creds[cred.ID] = &copied
	return nil
}

func (r *memCredentials) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	cred, ok := r.m.creds[id]
	if !ok {
		return models.ErrNotFound
	}
	cred.PasswordHash = passwordHash
	return nil
}

func (r *memCredentials) UpdateSessionToken(ctx context.Context, id, token string) error {
	cred, ok := r.m.creds[id]
	if !ok {
		return models.ErrNotFound
	}
	cred.SessionToken = token
	return nil
}

func (r *memCredentials) UpdateFactorType(ctx context.Context, id string, factorType models.FactorType) error {
	cred, ok := r.m.creds[id]
	if !ok {
		return models.ErrNotFound
	}
	cred.FactorType = factorType
	return nil
}

func (r *memCredentials) UpdateEmail(ctx context.Context, id, email string) error {
	for otherID, other := range r.m.creds {
		if otherID != id && other.Email == email {
			return models.ErrConflict
		}
	}
	cred, ok := r.m.creds[id]
	if !ok {
		return models.ErrNotFound
	}
	cred.Email = email
	return nil
}

type memTotpFactors struct{ m *memStore }

func (r *memTotpFactors) Get(ctx context.Context, userID string) (*models.TotpFactor, error) {
	factor, ok := r.m.totpFactors[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *factor
	copied.BackupCodes = append([]models.BackupCodeEntry(nil), factor.BackupCodes...)
	return &copied, nil
}

func (r *memTotpFactors) Create(ctx context.Context, factor *models.TotpFactor) error {
	if _, ok := r.m.totpFactors[factor.UserID]; ok {
		return models.ErrConflict
	}
	copied := *factor
	r.m.totpFactors[factor.UserID] = &copied
	return nil
}

func (r *memTotpFactors) Confirm(ctx context.Context, userID string, backupCodes []models.BackupCodeEntry, recoveryHash string, confirmedAt time.Time) error {
	factor, ok := r.m.totpFactors[userID]
	if !ok {
		return models.ErrNotFound
	}
	factor.Enabled = true
	factor.BackupCodes = backupCodes
	factor.RecoveryCodeHash = recoveryHash
	factor.ConfirmedAt = &confirmedAt
	return nil
}

func (r *memTotpFactors) UpdateBackupCodes(ctx context.Context, userID string, backupCodes []models.BackupCodeEntry) error {
	factor, ok := r.m.totpFactors[userID]
	if !ok {
		return models.ErrNotFound
	}
	factor.BackupCodes = backupCodes
	return nil
}

func (r *memTotpFactors) Delete(ctx context.Context, userID string) error {
	if r.m.DeleteFactorFunc != nil {
		return r.m.DeleteFactorFunc(ctx, userID)
	}
	if _, ok := r.m.totpFactors[userID]; !ok {
		return models.ErrNotFound
	}
	delete(r.m.totpFactors, userID)
	return nil
}

type memEmailFactors struct{ m *memStore }

func (r *memEmailFactors) Get(ctx context.Context, userID string) (*models.EmailFactor, error) {
	factor, ok := r.m.emailFactors[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *factor
	return &copied, nil
}

func (r *memEmailFactors) Create(ctx context.Context, factor *models.EmailFactor) error {
	if _, ok := r.m.emailFactors[factor.UserID]; ok {
		return models.ErrConflict
	}
	copied := *factor
	r.m.emailFactors[factor.UserID] = &copied
	return nil
}

func (r *memEmailFactors) Delete(ctx context.Context, userID string) error {
	if _, ok := r.m.emailFactors[userID]; !ok {
		return models.ErrNotFound
	}
	delete(r.m.emailFactors, userID)
	return nil
}

type memCodes struct{ m *memStore }

func codeKey(purpose, ref string) string { return purpose + "|" + ref }

func (r *memCodes) Get(ctx context.Context, purpose, accountRef string) (*models.VerificationCode, error) {
	code, ok := r.m.codes[codeKey(purpose, accountRef)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *code
	return &copied, nil
}

func (r *memCodes) Upsert(ctx context.Context, code *models.VerificationCode) error {
	if r.m.UpsertCodeFunc != nil {
		return r.m.UpsertCodeFunc(ctx, code)
	}
	copied := *code
	r.m.codes[codeKey(code.Purpose, code.AccountRef)] = &copied
	return nil
}

func (r *memCodes) Delete(ctx context.Context, purpose, accountRef string) error {
	key := codeKey(purpose, accountRef)
	if _, ok := r.m.codes[key]; !ok {
		return models.ErrNotFound
	}
	delete(r.m.codes, key)
	return nil
}

func (r *memCodes) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for key, code := range r.m.codes {
		if code.ExpiresAt.Before(before) {
			delete(r.m.codes, key)
			n++
		}
	}
	return n, nil
}

type memAttempts struct{ m *memStore }

func attemptKey(userID, kind string) string { return userID + "|" + kind }

func (r *memAttempts) Get(ctx context.Context, userID, kind string) (*models.VerifyAttempt, error) {
	attempt, ok := r.m.attempts[attemptKey(userID, kind)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (r *memAttempts) Upsert(ctx context.Context, attempt *models.VerifyAttempt) error {
	copied := *attempt
	r.m.attempts[attemptKey(attempt.UserID, attempt.Kind)] = &copied
	return nil
}

func (r *memAttempts) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for key, attempt := range r.m.attempts {
		if attempt.LastAttemptAt.Before(before) {
			delete(r.m.attempts, key)
			n++
		}
	}
	return n, nil
}

// mockMailer records outbound mail and can be told to fail.
type mockMailer struct {
	sent     []sentMail
	SendFunc func(ctx context.Context, to, subject, htmlBody string) error
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *mockMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, subject, htmlBody)
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testAudit() *logger.AuditLogger {
	return logger.NewAuditLogger(testLogger())
}
