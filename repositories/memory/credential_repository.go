package memory

import (
	"context"
	"sync"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories"
)

// CredentialRepository keeps credential mappings in process memory.
// Mappings live for the lifetime of the process.
type CredentialRepository struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential
}

// NewCredentialRepository creates an empty in-memory credential store
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		credentials: make(map[string]*models.Credential),
	}
}

// Get returns the secondary key stored for a session credential
func (r *CredentialRepository) Get(_ context.Context, sessionID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.credentials[sessionID]
	if !ok {
		return "", false, nil
	}
	return cred.SecondaryKey, true, nil
}

// Put records or replaces the secondary key for a session credential
func (r *CredentialRepository) Put(_ context.Context, sessionID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.credentials[sessionID] = models.NewCredential(sessionID, key)
	return nil
}

// Count returns the number of stored mappings
func (r *CredentialRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.credentials), nil
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
