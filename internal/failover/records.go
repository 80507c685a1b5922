package failover

import (
	"context"
	"time"
)

// Stage names which remedy a failover transition belongs to. Stage 1
// rotates credentials within a provider; stage 2 advances to a different
// (provider, model) candidate.
type Stage string

const (
	StageAuthRotation  Stage = "auth_rotation"
	StageModelFallback Stage = "model_fallback"
)

// AttemptRecord is one append-only audit entry for a failover transition.
type AttemptRecord struct {
	RecordID      string    `json:"record_id"`
	TurnID        string    `json:"turn_id"`
	Stage         Stage     `json:"stage"`
	ProviderID    string    `json:"provider_id"`
	ModelID       string    `json:"model_id"`
	FromProfileID string    `json:"from_profile_id,omitempty"`
	ToProfileID   string    `json:"to_profile_id,omitempty"`
	FromModelID   string    `json:"from_model_id,omitempty"`
	ToModelID     string    `json:"to_model_id,omitempty"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type RecordStore interface {
	AppendRecord(ctx context.Context, rec AttemptRecord) error
	ListRecords(ctx context.Context, turnID string) ([]AttemptRecord, error)
	Close() error
}
