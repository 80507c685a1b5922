package routing

import (
	"errors"
	"fmt"

	"relaystack.local/relay-gateway/internal/credential"
)

// ErrCrossBoundaryCredential is a security violation: a credential profile
// from the wrong ownership scope reached the dispatch path. Never
// auto-retried.
var ErrCrossBoundaryCredential = errors.New("cross-boundary credential use")

// Authorize is the final pre-dispatch check that a profile may be used
// under a binding. It is independent of the routing logic that selected
// the profile, so a routing bug cannot leak credentials across tenants.
func Authorize(binding BindingRecord, profile credential.ProfileRecord) error {
	switch profile.OwnerScope {
	case credential.ScopeOrganization:
		if binding.OwnerScope != credential.ScopeOrganization {
			return fmt.Errorf("%w: organization profile %s under %s binding",
				ErrCrossBoundaryCredential, profile.ProfileID, binding.OwnerScope)
		}
		if profile.TenantID != binding.TenantID {
			return fmt.Errorf("%w: profile %s belongs to tenant %s, binding to tenant %s",
				ErrCrossBoundaryCredential, profile.ProfileID, profile.TenantID, binding.TenantID)
		}
		return nil
	case credential.ScopePlatform:
		if binding.OwnerScope == credential.ScopePlatform || binding.AllowPlatformFallback {
			return nil
		}
		return fmt.Errorf("%w: platform profile %s under organization binding without platform fallback",
			ErrCrossBoundaryCredential, profile.ProfileID)
	default:
		return fmt.Errorf("%w: profile %s has unknown scope %q",
			ErrCrossBoundaryCredential, profile.ProfileID, profile.OwnerScope)
	}
}
