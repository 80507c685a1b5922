package session

import "time"

type SessionRecord struct {
	SessionID      string    `json:"session_id"`
	TenantID       string    `json:"tenant_id"`
	Channel        string    `json:"channel"`
	InstallationID string    `json:"installation_id"`
	PeerID         string    `json:"peer_id"`
	AgentID        string    `json:"agent_id"`
	RoutingKey     string    `json:"routing_key"`
	ActiveTurnID   string    `json:"active_turn_id,omitempty"`
	Active         bool      `json:"active"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
