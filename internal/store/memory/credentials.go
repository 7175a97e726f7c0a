package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// CredentialStore is the in-memory stand-in for the identity provider's credential table
type CredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]models.Credential
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{credentials: make(map[string]models.Credential)}
}

func (s *CredentialStore) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, c *models.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.Email] = *c
	return nil
}
