package memory

import (
	"context"
	"sync"

	"github.com/omniswap/swapd/internal/domain"
)

// CredentialStore is an in-memory implementation of domain.CredentialStore.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]domain.EncryptedCredentials
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]domain.EncryptedCredentials)}
}

func credKey(userAddress, exchange string) string {
	return userAddress + "|" + exchange
}

// Put inserts or replaces a user's credentials for an exchange.
func (s *CredentialStore) Put(_ context.Context, creds domain.EncryptedCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := creds
	stored.Ciphertext = append([]byte(nil), creds.Ciphertext...)
	s.creds[credKey(creds.UserAddress, creds.Exchange)] = stored
	return nil
}

// Get returns a user's encrypted credentials for an exchange.
func (s *CredentialStore) Get(_ context.Context, userAddress, exchange string) (domain.EncryptedCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.creds[credKey(userAddress, exchange)]
	if !ok {
		return domain.EncryptedCredentials{}, domain.ErrNotFound
	}
	creds.Ciphertext = append([]byte(nil), creds.Ciphertext...)
	return creds, nil
}

// Delete removes a user's credentials for an exchange.
func (s *CredentialStore) Delete(_ context.Context, userAddress, exchange string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credKey(userAddress, exchange)
	if _, ok := s.creds[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.creds, key)
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
