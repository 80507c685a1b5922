package turn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	turns   map[string]TurnRecord
	byToken map[string]string // lease token -> turn id
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:   make(map[string]TurnRecord),
		byToken: make(map[string]string),
	}
}

func (s *MemoryStore) AcquireTurn(_ context.Context, rec TurnRecord) (TurnRecord, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}

	priorAttempts := 0
	for _, existing := range s.turns {
		if existing.SessionID != rec.SessionID || existing.AgentID != rec.AgentID {
			continue
		}
		if existing.State == StateRunning && existing.LeaseExpiresAt.After(now) {
			return TurnRecord{}, ErrLeaseConflict
		}
		if existing.IdempotencyKey == rec.IdempotencyKey {
			if existing.State == StateCompleted || existing.State == StateSuspended {
				return TurnRecord{}, ErrDuplicateDelivery
			}
			if existing.AttemptCount > priorAttempts {
				priorAttempts = existing.AttemptCount
			}
		}
	}

	rec.State = StateRunning
	rec.AttemptCount = priorAttempts
	rec.LastHeartbeatAt = now
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.turns[rec.TurnID] = rec
	s.byToken[rec.LeaseToken] = rec.TurnID
	return rec, nil
}

func (s *MemoryStore) HeartbeatTurn(_ context.Context, leaseToken string, expiresAt time.Time) (TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, err := s.runningByTokenLocked(leaseToken)
	if err != nil {
		return TurnRecord{}, err
	}
	now := time.Now().UTC()
	rec.LeaseExpiresAt = expiresAt
	rec.LastHeartbeatAt = now
	rec.UpdatedAt = now
	s.turns[rec.TurnID] = rec
	return rec, nil
}

func (s *MemoryStore) ReleaseTurn(_ context.Context, leaseToken string, state State) (TurnRecord, error) {
	if state != StateCompleted && state != StateSuspended {
		return TurnRecord{}, fmt.Errorf("release to %q is not allowed", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, err := s.runningByTokenLocked(leaseToken)
	if err != nil {
		return TurnRecord{}, err
	}
	now := time.Now().UTC()
	rec.State = state
	rec.UpdatedAt = now
	if state == StateCompleted {
		rec.CompletedAt = now
	}
	delete(s.byToken, leaseToken)
	rec.LeaseToken = ""
	s.turns[rec.TurnID] = rec
	return rec, nil
}

func (s *MemoryStore) FailTurn(_ context.Context, leaseToken string, kind FailKind, message string) (TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, err := s.runningByTokenLocked(leaseToken)
	if err != nil {
		return TurnRecord{}, err
	}
	now := time.Now().UTC()
	rec.State = StateFailed
	rec.FailureKind = kind
	rec.Error = message
	rec.AttemptCount++
	rec.CompletedAt = now
	rec.UpdatedAt = now
	delete(s.byToken, leaseToken)
	rec.LeaseToken = ""
	s.turns[rec.TurnID] = rec
	return rec, nil
}

func (s *MemoryStore) ResumeTurn(_ context.Context, turnID, leaseToken string, expiresAt time.Time) (TurnRecord, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, ok := s.turns[turnID]
	if !ok {
		return TurnRecord{}, ErrNotFound
	}
	if rec.State != StateSuspended {
		return TurnRecord{}, fmt.Errorf("turn %s is %s, not suspended", turnID, rec.State)
	}
	for _, existing := range s.turns {
		if existing.SessionID == rec.SessionID && existing.AgentID == rec.AgentID &&
			existing.State == StateRunning && existing.LeaseExpiresAt.After(now) {
			return TurnRecord{}, ErrLeaseConflict
		}
	}
	rec.State = StateRunning
	rec.LeaseToken = leaseToken
	rec.LeaseExpiresAt = expiresAt
	rec.LastHeartbeatAt = now
	rec.UpdatedAt = now
	s.turns[turnID] = rec
	s.byToken[leaseToken] = turnID
	return rec, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) ([]TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	reclaimed := make([]TurnRecord, 0)
	for id, rec := range s.turns {
		if rec.State != StateRunning || rec.LeaseExpiresAt.After(now) {
			continue
		}
		delete(s.byToken, rec.LeaseToken)
		rec.State = StateFailed
		rec.FailureKind = FailLeaseExpired
		rec.Error = "lease expired without heartbeat"
		rec.AttemptCount++
		rec.LeaseToken = ""
		rec.CompletedAt = now
		rec.UpdatedAt = now
		s.turns[id] = rec
		reclaimed = append(reclaimed, rec)
	}
	return reclaimed, nil
}

func (s *MemoryStore) GetTurn(_ context.Context, turnID string) (TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, ok := s.turns[turnID]
	if !ok {
		return TurnRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	out := make([]TurnRecord, 0)
	for _, rec := range s.turns {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) runningByTokenLocked(leaseToken string) (TurnRecord, error) {
	turnID, ok := s.byToken[leaseToken]
	if !ok {
		return TurnRecord{}, ErrStaleLease
	}
	rec := s.turns[turnID]
	if rec.State != StateRunning {
		return TurnRecord{}, ErrStaleLease
	}
	return rec, nil
}
