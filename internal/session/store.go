package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Store resolves and persists sessions. ResolveSession finds the session
// for an identity or creates it. A legacy session stored under the coarse
// (tenant, channel, agent) key is promoted to the five-tuple key only when
// no session already claims the exact tuple; sessions are never deleted,
// only marked inactive.
type Store interface {
	ResolveSession(ctx context.Context, id Identity) (SessionRecord, error)
	GetByRoutingKey(ctx context.Context, routingKey string) (SessionRecord, error)
	TouchActivity(ctx context.Context, sessionID, activeTurnID string) error
	Deactivate(ctx context.Context, sessionID string) error
	Close() error
}

func newSessionRecord(id Identity, sessionID string, now time.Time) SessionRecord {
	return SessionRecord{
		SessionID:      sessionID,
		TenantID:       id.TenantID,
		Channel:        id.Channel,
		InstallationID: id.InstallationID,
		PeerID:         id.PeerID,
		AgentID:        id.AgentID,
		RoutingKey:     ComputeRoutingKey(id),
		Active:         true,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func promote(rec SessionRecord, id Identity, now time.Time) SessionRecord {
	rec.InstallationID = id.InstallationID
	rec.PeerID = id.PeerID
	rec.RoutingKey = ComputeRoutingKey(id)
	rec.UpdatedAt = now
	return rec
}
