package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	TypeTurnStarted     Type = "turn.started"
	TypeTurnCompleted   Type = "turn.completed"
	TypeTurnFailed      Type = "turn.failed"
	TypeTurnSuspended   Type = "turn.suspended"
	TypeTurnReclaimed   Type = "turn.reclaimed"
	TypeTurnDuplicate   Type = "turn.duplicate"
	TypeFailoverAttempt Type = "failover.attempt"
)

// Envelope is the telemetry record emitted on every turn state transition
// and failover attempt. Consumers are external; the payload is opaque JSON.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	TenantID   string          `json:"tenant_id"`
	SessionID  string          `json:"session_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	TurnID     string          `json:"turn_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the envelope payload into out.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %s has no payload", e.EventID)
	}
	return json.Unmarshal(e.Payload, out)
}
