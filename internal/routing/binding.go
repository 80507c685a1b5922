package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaystack.local/relay-gateway/internal/credential"
)

var ErrNotFound = errors.New("not found")

// BindingRecord ties one channel installation to a credential ownership
// scope. A binding resolves to exactly one scope; reaching platform
// credentials from an organization-scoped binding requires the explicit
// AllowPlatformFallback flag. Scope never auto-promotes.
type BindingRecord struct {
	BindingID             string                `json:"binding_id"`
	TenantID              string                `json:"tenant_id"`
	Channel               string                `json:"channel"`
	InstallationID        string                `json:"installation_id"`
	AccountID             string                `json:"account_id,omitempty"`
	TeamID                string                `json:"team_id,omitempty"`
	PeerID                string                `json:"peer_id,omitempty"`
	ChannelTopicID        string                `json:"channel_topic_id,omitempty"`
	OwnerScope            credential.OwnerScope `json:"owner_scope"`
	AllowPlatformFallback bool                  `json:"allow_platform_fallback"`
	Priority              int                   `json:"priority"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// RouteSelector is the dimension set of an inbound event used to pick a
// binding. Empty binding dimensions are wildcards.
type RouteSelector struct {
	TenantID       string
	Channel        string
	InstallationID string
	AccountID      string
	TeamID         string
	PeerID         string
	ChannelTopicID string
}

type BindingStore interface {
	CreateBinding(ctx context.Context, rec BindingRecord) error
	ListBindings(ctx context.Context, tenantID, channel, installationID string) ([]BindingRecord, error)
	Close() error
}

// ResolveBinding picks the binding matching the selector, most specific
// first, ties broken by priority.
func ResolveBinding(ctx context.Context, store BindingStore, sel RouteSelector) (BindingRecord, error) {
	bindings, err := store.ListBindings(ctx, sel.TenantID, sel.Channel, sel.InstallationID)
	if err != nil {
		return BindingRecord{}, fmt.Errorf("list bindings: %w", err)
	}

	best := BindingRecord{}
	bestScore := -1
	found := false
	for _, rec := range bindings {
		score, ok := matchScore(rec, sel)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && rec.Priority > best.Priority) {
			best = rec
			bestScore = score
			found = true
		}
	}
	if !found {
		return BindingRecord{}, fmt.Errorf("binding for tenant=%s channel=%s installation=%s: %w",
			sel.TenantID, sel.Channel, sel.InstallationID, ErrNotFound)
	}
	return best, nil
}

func matchScore(rec BindingRecord, sel RouteSelector) (int, bool) {
	score := 0
	dims := []struct{ bound, actual string }{
		{rec.AccountID, sel.AccountID},
		{rec.TeamID, sel.TeamID},
		{rec.PeerID, sel.PeerID},
		{rec.ChannelTopicID, sel.ChannelTopicID},
	}
	for _, dim := range dims {
		if strings.TrimSpace(dim.bound) == "" {
			continue
		}
		if dim.bound != dim.actual {
			return 0, false
		}
		score++
	}
	return score, true
}

func validateBinding(rec BindingRecord) error {
	if strings.TrimSpace(rec.BindingID) == "" {
		return fmt.Errorf("binding_id is required")
	}
	if strings.TrimSpace(rec.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if strings.TrimSpace(rec.Channel) == "" {
		return fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(rec.InstallationID) == "" {
		return fmt.Errorf("installation_id is required")
	}
	switch rec.OwnerScope {
	case credential.ScopePlatform, credential.ScopeOrganization:
	default:
		return fmt.Errorf("unknown owner_scope %q", rec.OwnerScope)
	}
	return nil
}
