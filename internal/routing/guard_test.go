package routing

import (
	"errors"
	"testing"

	"relaystack.local/relay-gateway/internal/credential"
)

func TestAuthorize(t *testing.T) {
	cases := []struct {
		name    string
		binding BindingRecord
		profile credential.ProfileRecord
		wantErr bool
	}{
		{
			name:    "org profile under matching org binding",
			binding: BindingRecord{OwnerScope: credential.ScopeOrganization, TenantID: "t1"},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: credential.ScopeOrganization, TenantID: "t1"},
		},
		{
			name:    "org profile under another tenant's binding",
			binding: BindingRecord{OwnerScope: credential.ScopeOrganization, TenantID: "t2"},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: credential.ScopeOrganization, TenantID: "t1"},
			wantErr: true,
		},
		{
			name:    "org profile under platform binding",
			binding: BindingRecord{OwnerScope: credential.ScopePlatform},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: credential.ScopeOrganization, TenantID: "t1"},
			wantErr: true,
		},
		{
			name:    "platform profile under platform binding",
			binding: BindingRecord{OwnerScope: credential.ScopePlatform},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: credential.ScopePlatform},
		},
		{
			name:    "platform profile under org binding with fallback",
			binding: BindingRecord{OwnerScope: credential.ScopeOrganization, TenantID: "t1", AllowPlatformFallback: true},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: credential.ScopePlatform},
		},
		{
			name:    "platform profile under org binding without fallback",
			binding: BindingRecord{OwnerScope: credential.ScopeOrganization, TenantID: "t1"},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: credential.ScopePlatform},
			wantErr: true,
		},
		{
			name:    "unknown profile scope",
			binding: BindingRecord{OwnerScope: credential.ScopePlatform},
			profile: credential.ProfileRecord{ProfileID: "p1", OwnerScope: "mystery"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.binding, tc.profile)
			if tc.wantErr {
				if !errors.Is(err, ErrCrossBoundaryCredential) {
					t.Fatalf("expected ErrCrossBoundaryCredential, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
