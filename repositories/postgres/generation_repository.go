package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories"
)

// GenerationRepository implements the repositories.GenerationRepository interface
type GenerationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGenerationRepository creates a new generation log repository
func NewGenerationRepository(db *DB, logger *zap.Logger) repositories.GenerationRepository {
	return &GenerationRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new generation record
func (r *GenerationRepository) Insert(ctx context.Context, record *models.GenerationRecord) error {
	query := `
		INSERT INTO generation_logs (
			id, request_id, stage, prompt, width, height,
			requested, real_images, mock_mode, failures, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	var failures interface{}
	if len(record.Failures) > 0 {
		failures = []byte(record.Failures)
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.Stage,
		record.Prompt,
		record.Width,
		record.Height,
		record.Requested,
		record.RealImages,
		record.MockMode,
		failures,
		record.LatencyMs,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation record: %w", err)
	}

	r.logger.Debug("generation record inserted",
		zap.String("id", record.ID.String()),
		zap.String("stage", string(record.Stage)))
	return nil
}
