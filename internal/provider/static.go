package provider

import (
	"context"
	"fmt"
	"strings"
)

// StaticAdapter answers every request with a canned completion. It exists
// for local development and smoke tests; production adapters live outside
// this module and register through the Registry.
type StaticAdapter struct {
	Reply string
}

func NewStaticAdapter(reply string) *StaticAdapter {
	if strings.TrimSpace(reply) == "" {
		reply = "ok"
	}
	return &StaticAdapter{Reply: reply}
}

func (a *StaticAdapter) Send(ctx context.Context, cred Credential, modelID string, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(cred.Secret) == "" {
		return Response{}, &Error{Kind: KindAuth, Model: modelID, Wrapped: fmt.Errorf("empty secret")}
	}
	var inputTokens int64
	for _, msg := range req.Messages {
		inputTokens += int64(len(strings.Fields(msg.Content)))
	}
	return Response{
		Content:      a.Reply,
		Model:        modelID,
		StopReason:   "end_turn",
		InputTokens:  inputTokens,
		OutputTokens: int64(len(strings.Fields(a.Reply))),
	}, nil
}
