package credential

import "time"

// OwnerScope says who owns a connection profile. Platform profiles are
// shared infrastructure; organization profiles are tenant-supplied (BYOK).
type OwnerScope string

const (
	ScopePlatform     OwnerScope = "platform"
	ScopeOrganization OwnerScope = "organization"
)

// FailureKind is the rotator's view of why a dispatch through a profile
// failed. Only billing_disabled and revoked disable the profile outright;
// everything else imposes a cooldown.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureServerError     FailureKind = "server_error"
	FailureAuth            FailureKind = "auth"
	FailureBillingDisabled FailureKind = "billing_disabled"
	FailureRevoked         FailureKind = "revoked"
	FailureUnknown         FailureKind = "unknown"
)

func (k FailureKind) Permanent() bool {
	return k == FailureBillingDisabled || k == FailureRevoked
}

// ProfileRecord is one provider connection profile. The secret is stored
// sealed; Version guards every mutation so concurrent turns penalizing or
// selecting the same profile never lose an update.
type ProfileRecord struct {
	ProfileID           string     `json:"profile_id"`
	ProviderID          string     `json:"provider_id"`
	TenantID            string     `json:"tenant_id,omitempty"`
	OwnerScope          OwnerScope `json:"owner_scope"`
	SecretCiphertext    string     `json:"-"`
	Endpoint            string     `json:"endpoint,omitempty"`
	Capabilities        []string   `json:"capabilities,omitempty"`
	Priority            int        `json:"priority"`
	Enabled             bool       `json:"enabled"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CooldownUntil       time.Time  `json:"cooldown_until,omitempty"`
	LastUsedAt          time.Time  `json:"last_used_at,omitempty"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ProfileMetadata is the caller-supplied part of a new profile.
type ProfileMetadata struct {
	Endpoint     string
	Capabilities []string
	Priority     int
}
