package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/models"
	"github.com/rowanvale/sentinel/internal/repositories"
	"github.com/rowanvale/sentinel/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
	Store      *repositories.Store
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sentinel"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := database.Migrate(connStr); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := &database.DB{Pool: pool}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
		Store:      repositories.NewStore(dbWrapper),
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"verify_attempts",
		"verification_codes",
		"email_factors",
		"totp_factors",
		"user_credentials",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedCredential inserts a credential whose stored hash wraps the given
// client-side password hash, the same way registration does.
func SeedCredential(ctx context.Context, pool *pgxpool.Pool, email, clientPasswordHash string) (*models.UserCredential, error) {
	stored, err := auth.HashPassword(clientPasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO user_credentials (id, email, password_hash, session_token, factor_type, created_at, updated_at)
		VALUES ($1, $2, $3, '', 'none', NOW(), NOW())
		RETURNING id, email, password_hash, factor_type, created_at, updated_at
	`

	var cred models.UserCredential
	err = pool.QueryRow(ctx, query, uuid.New().String(), email, stored).Scan(
		&cred.ID,
		&cred.Email,
		&cred.PasswordHash,
		&cred.FactorType,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credential: %w", err)
	}

	return &cred, nil
}

// SeedVerificationCode plants a known code in the ledger so flows can be
// driven without reading outbound mail.
func SeedVerificationCode(ctx context.Context, pool *pgxpool.Pool, purpose, accountRef, code string) error {
	query := `
		INSERT INTO verification_codes (purpose, account_ref, code, expires_at, attempts_today, last_request_at)
		VALUES ($1, $2, $3, NOW() + INTERVAL '30 minutes', 1, NOW())
		ON CONFLICT (purpose, account_ref) DO UPDATE
		SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at
	`
	_, err := pool.Exec(ctx, query, purpose, accountRef, code)
	if err != nil {
		return fmt.Errorf("failed to insert verification code: %w", err)
	}
	return nil
}
