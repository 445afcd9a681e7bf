package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/image-gateway/repositories"
)

// CredentialRepository implements the repositories.CredentialRepository interface
type CredentialRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB, logger *zap.Logger) repositories.CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the secondary key stored for a session credential
func (r *CredentialRepository) Get(ctx context.Context, sessionID string) (string, bool, error) {
	query := `SELECT secondary_key FROM credentials WHERE session_id = $1`

	var key string
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get credential: %w", err)
	}
	return key, true, nil
}

// Put records or replaces the secondary key for a session credential
func (r *CredentialRepository) Put(ctx context.Context, sessionID, key string) error {
	query := `
		INSERT INTO credentials (session_id, secondary_key, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id)
		DO UPDATE SET secondary_key = EXCLUDED.secondary_key, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, sessionID, key, time.Now()); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	r.logger.Debug("credential stored", zap.String("backend", "postgres"))
	return nil
}

// Count returns the number of stored mappings
func (r *CredentialRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return n, nil
}
