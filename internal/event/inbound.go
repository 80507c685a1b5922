package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InboundTurnRequest is the normalized inbound conversational event handed
// over by a channel-transport collaborator. Webhook verification happened
// upstream.
type InboundTurnRequest struct {
	TenantID       string          `json:"tenant_id"`
	Channel        string          `json:"channel"`
	InstallationID string          `json:"installation_id"`
	PeerID         string          `json:"peer_id"`
	AgentID        string          `json:"agent_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	AccountID      string          `json:"account_id,omitempty"`
	TeamID         string          `json:"team_id,omitempty"`
	ChannelTopicID string          `json:"channel_topic_id,omitempty"`
	Text           string          `json:"text,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func (r InboundTurnRequest) Validate() error {
	for _, field := range []struct{ name, value string }{
		{"tenant_id", r.TenantID},
		{"channel", r.Channel},
		{"installation_id", r.InstallationID},
		{"peer_id", r.PeerID},
		{"agent_id", r.AgentID},
		{"idempotency_key", r.IdempotencyKey},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	return nil
}
