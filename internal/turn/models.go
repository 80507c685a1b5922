package turn

import "time"

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSuspended State = "suspended"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether a turn in this state can never run again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailKind says why a turn failed. Only provider errors are worth an
// immediate re-acquire; everything else surfaces to escalation.
type FailKind string

const (
	FailProviderError FailKind = "provider_error"
	FailCancelled     FailKind = "cancelled"
	FailLeaseExpired  FailKind = "lease_expired"
	FailAbandoned     FailKind = "abandoned"
	FailFatal         FailKind = "fatal"
)

func (k FailKind) Retryable() bool {
	return k == FailProviderError
}

// TurnRecord is one unit of agent processing. At most one turn per
// (session, agent) pair is ever in StateRunning with an unexpired lease.
type TurnRecord struct {
	TurnID          string    `json:"turn_id"`
	TenantID        string    `json:"tenant_id"`
	SessionID       string    `json:"session_id"`
	AgentID         string    `json:"agent_id"`
	IdempotencyKey  string    `json:"idempotency_key"`
	State           State     `json:"state"`
	LeaseToken      string    `json:"-"`
	LeaseExpiresAt  time.Time `json:"lease_expires_at"`
	AttemptCount    int       `json:"attempt_count"`
	FailureKind     FailKind  `json:"failure_kind,omitempty"`
	Error           string    `json:"error,omitempty"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	CreatedAt       time.Time `json:"created_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
