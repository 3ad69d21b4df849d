package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/services"
)

// Store implements services.Store over a pgx querier. The zero-cost
// accessors share the same querier, so a Store built inside InTx binds
// every repository to the same transaction.
type Store struct {
	db *database.DB
	q  database.Querier
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, q: db.Pool}
}

func (s *Store) Credentials() services.CredentialStore {
	return &CredentialRepository{q: s.q}
}

func (s *Store) TotpFactors() services.TotpFactorStore {
	return &TotpFactorRepository{q: s.q}
}

func (s *Store) EmailFactors() services.EmailFactorStore {
	return &EmailFactorRepository{q: s.q}
}

func (s *Store) VerificationCodes() services.VerificationCodeStore {
	return &VerificationCodeRepository{q: s.q}
}

func (s *Store) VerifyAttempts() services.VerifyAttemptStore {
	return &VerifyAttemptRepository{q: s.q}
}

func (s *Store) InTx(ctx context.Context, fn func(services.Store) error) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx})
	})
}
