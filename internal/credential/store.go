package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("profile version conflict")
)

// Store persists connection profiles. UpdateProfile is a compare-and-swap
// on Version: the write applies only when the stored version matches the
// record's, and the stored version is incremented. Callers retry on
// ErrVersionConflict.
type Store interface {
	CreateProfile(ctx context.Context, rec ProfileRecord) error
	GetProfile(ctx context.Context, profileID string) (ProfileRecord, error)
	ListProfiles(ctx context.Context, providerID string, scope OwnerScope, tenantID string) ([]ProfileRecord, error)
	UpdateProfile(ctx context.Context, rec ProfileRecord) (ProfileRecord, error)
	Close() error
}

func validateProfile(rec ProfileRecord) error {
	if strings.TrimSpace(rec.ProfileID) == "" {
		return fmt.Errorf("profile_id is required")
	}
	if strings.TrimSpace(rec.ProviderID) == "" {
		return fmt.Errorf("provider_id is required")
	}
	switch rec.OwnerScope {
	case ScopePlatform:
		if strings.TrimSpace(rec.TenantID) != "" {
			return fmt.Errorf("platform profiles must not carry a tenant_id")
		}
	case ScopeOrganization:
		if strings.TrimSpace(rec.TenantID) == "" {
			return fmt.Errorf("organization profiles require a tenant_id")
		}
	default:
		return fmt.Errorf("unknown owner_scope %q", rec.OwnerScope)
	}
	return nil
}

func profileMatches(rec ProfileRecord, providerID string, scope OwnerScope, tenantID string) bool {
	if rec.ProviderID != providerID || rec.OwnerScope != scope {
		return false
	}
	if scope == ScopeOrganization && rec.TenantID != tenantID {
		return false
	}
	return true
}
