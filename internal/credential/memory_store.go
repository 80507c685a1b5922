package credential

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]ProfileRecord
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]ProfileRecord)}
}

func (s *MemoryStore) CreateProfile(_ context.Context, rec ProfileRecord) error {
	if err := validateProfile(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	if _, ok := s.profiles[rec.ProfileID]; ok {
		return fmt.Errorf("profile %s already exists", rec.ProfileID)
	}
	rec.Version = 1
	s.profiles[rec.ProfileID] = rec
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, profileID string) (ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ProfileRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, ok := s.profiles[profileID]
	if !ok {
		return ProfileRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context, providerID string, scope OwnerScope, tenantID string) ([]ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	out := make([]ProfileRecord, 0)
	for _, rec := range s.profiles {
		if profileMatches(rec, providerID, scope, tenantID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, rec ProfileRecord) (ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ProfileRecord{}, fmt.Errorf("memory store is closed")
	}
	current, ok := s.profiles[rec.ProfileID]
	if !ok {
		return ProfileRecord{}, ErrNotFound
	}
	if current.Version != rec.Version {
		return ProfileRecord{}, ErrVersionConflict
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	s.profiles[rec.ProfileID] = rec
	return rec, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
