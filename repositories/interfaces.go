package repositories

import (
	"context"

	"github.com/upb/image-gateway/models"
)

// CredentialRepository maps session credentials onto secondary provider keys.
// Implementations must be safe for concurrent use. Put is update-or-insert with
// last-write-wins semantics; entries never expire.
type CredentialRepository interface {
	// Get returns the secondary key stored for a session credential.
	// found is false when no mapping exists.
	Get(ctx context.Context, sessionID string) (key string, found bool, err error)

	// Put records or replaces the secondary key for a session credential
	Put(ctx context.Context, sessionID, key string) error

	// Count returns the number of stored mappings
	Count(ctx context.Context) (int, error)
}

// GenerationRepository handles generation log data operations
type GenerationRepository interface {
	// Insert inserts a new generation record (append-only)
	Insert(ctx context.Context, record *models.GenerationRecord) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Credentials CredentialRepository
	Generations GenerationRepository // nil when no database is configured
}
