package provider

import (
	"context"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized outbound request handed to an adapter. Provider
// specific wire translation happens inside the adapter.
type Request struct {
	TurnID       string
	TenantID     string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

type Response struct {
	Content      string
	Model        string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Credential carries a decrypted secret for the duration of exactly one
// Send call. Adapters must not retain it.
type Credential struct {
	ProfileID string
	Secret    string
	Endpoint  string
}

// Adapter translates normalized requests into one provider's wire protocol.
type Adapter interface {
	Send(ctx context.Context, cred Credential, modelID string, req Request) (Response, error)
}
