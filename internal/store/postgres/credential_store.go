package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniswap/swapd/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL.
// Only the encrypted ciphertext ever touches the database; encryption and
// decryption happen in the crypto package.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new CredentialStore backed by the given
// connection pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Put inserts or replaces a user's credentials for an exchange.
func (s *CredentialStore) Put(ctx context.Context, creds domain.EncryptedCredentials) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cex_credentials (user_address, exchange, ciphertext, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_address, exchange) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, created_at = EXCLUDED.created_at`,
		creds.UserAddress, creds.Exchange, creds.Ciphertext, creds.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put credentials %s/%s: %w", creds.UserAddress, creds.Exchange, err)
	}
	return nil
}

// Get returns a user's encrypted credentials for an exchange.
func (s *CredentialStore) Get(ctx context.Context, userAddress, exchange string) (domain.EncryptedCredentials, error) {
	var creds domain.EncryptedCredentials
	err := s.pool.QueryRow(ctx, `
		SELECT user_address, exchange, ciphertext, created_at
		FROM cex_credentials WHERE user_address = $1 AND exchange = $2`,
		userAddress, exchange,
	).Scan(&creds.UserAddress, &creds.Exchange, &creds.Ciphertext, &creds.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EncryptedCredentials{}, domain.ErrNotFound
		}
		return domain.EncryptedCredentials{}, fmt.Errorf("postgres: get credentials %s/%s: %w", userAddress, exchange, err)
	}
	return creds, nil
}

// Delete removes a user's credentials for an exchange.
func (s *CredentialStore) Delete(ctx context.Context, userAddress, exchange string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cex_credentials WHERE user_address = $1 AND exchange = $2`,
		userAddress, exchange,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete credentials %s/%s: %w", userAddress, exchange, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
