package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relaystack.local/relay-gateway/internal/ids"
)

type MemoryStore struct {
	mu       sync.Mutex
	byKey    map[string]string // routing key -> session id
	sessions map[string]SessionRecord
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:    make(map[string]string),
		sessions: make(map[string]SessionRecord),
	}
}

func (s *MemoryStore) ResolveSession(_ context.Context, id Identity) (SessionRecord, error) {
	now := time.Now().UTC()
	key := ComputeRoutingKey(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}

	if sessionID, ok := s.byKey[key]; ok {
		return s.sessions[sessionID], nil
	}

	legacyKey := LegacyRoutingKey(id.TenantID, id.Channel, id.AgentID)
	if sessionID, ok := s.byKey[legacyKey]; ok {
		promoted := promote(s.sessions[sessionID], id, now)
		delete(s.byKey, legacyKey)
		s.byKey[key] = sessionID
		s.sessions[sessionID] = promoted
		return promoted, nil
	}

	rec := newSessionRecord(id, ids.New(), now)
	s.byKey[key] = rec.SessionID
	s.sessions[rec.SessionID] = rec
	return rec, nil
}

func (s *MemoryStore) GetByRoutingKey(_ context.Context, routingKey string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}
	sessionID, ok := s.byKey[routingKey]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return s.sessions[sessionID], nil
}

func (s *MemoryStore) TouchActivity(_ context.Context, sessionID, activeTurnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.ActiveTurnID = activeTurnID
	rec.LastActivityAt = now
	rec.UpdatedAt = now
	s.sessions[sessionID] = rec
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.Active = false
	rec.ActiveTurnID = ""
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = rec
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
