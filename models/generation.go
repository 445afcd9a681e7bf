package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenerationStage names the fallback stage that produced a batch of images
type GenerationStage string

const (
	GenerationStageForward     GenerationStage = "forward"
	GenerationStageSecondary   GenerationStage = "secondary"
	GenerationStagePlaceholder GenerationStage = "placeholder"
	GenerationStageNone        GenerationStage = "none" // chain exhausted
)

// GenerationRecord is the audit trail entry written for every dispatched request
type GenerationRecord struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	RequestID  string          `json:"request_id" db:"request_id"`
	Stage      GenerationStage `json:"stage" db:"stage"`
	Prompt     string          `json:"prompt" db:"prompt"`
	Width      int             `json:"width" db:"width"`
	Height     int             `json:"height" db:"height"`
	Requested  int             `json:"requested" db:"requested"`
	RealImages int             `json:"real_images" db:"real_images"`
	MockMode   bool            `json:"mock_mode" db:"mock_mode"`
	Failures   json.RawMessage `json:"failures,omitempty" db:"failures"` // JSONB, stage -> error kind
	LatencyMs  int             `json:"latency_ms" db:"latency_ms"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the GenerationRecord model
func (GenerationRecord) TableName() string {
	return "generation_logs"
}

// NewGenerationRecord creates a record for the generation with the given id
func NewGenerationRecord(id uuid.UUID, requestID string, stage GenerationStage) *GenerationRecord {
	return &GenerationRecord{
		ID:        id,
		RequestID: requestID,
		Stage:     stage,
		CreatedAt: time.Now(),
	}
}

// WithRequest copies the request shape onto the record
func (g *GenerationRecord) WithRequest(prompt string, count, width, height int) *GenerationRecord {
	g.Prompt = prompt
	g.Requested = count
	g.Width = width
	g.Height = height
	return g
}

// WithOutcome sets how many real images were produced and whether placeholders were used
func (g *GenerationRecord) WithOutcome(realImages int, mockMode bool, latency time.Duration) *GenerationRecord {
	g.RealImages = realImages
	g.MockMode = mockMode
	g.LatencyMs = int(latency.Milliseconds())
	return g
}

// WithFailures records the failure kind observed at each stage
func (g *GenerationRecord) WithFailures(failures map[string]string) *GenerationRecord {
	if len(failures) == 0 {
		return g
	}
	if data, err := json.Marshal(failures); err == nil {
		g.Failures = data
	}
	return g
}

// Credential maps a session credential onto the secondary provider key last seen with it
type Credential struct {
	SessionID    string    `json:"session_id" db:"session_id"`
	SecondaryKey string    `json:"-" db:"secondary_key"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Credential model
func (Credential) TableName() string {
	return "credentials"
}

// NewCredential creates a credential mapping stamped with the current time
func NewCredential(sessionID, secondaryKey string) *Credential {
	return &Credential{
		SessionID:    sessionID,
		SecondaryKey: secondaryKey,
		UpdatedAt:    time.Now(),
	}
}
