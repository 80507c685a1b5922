package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"relaystack.local/relay-gateway/internal/ids"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

const casRetryLimit = 5

// ResolvedSecret is a decrypted secret, valid for the scope of exactly one
// outbound call. It is never persisted or cached.
type ResolvedSecret struct {
	ProfileID string
	Secret    string
	Endpoint  string
}

// Registry owns connection profiles and their sealed secrets.
type Registry struct {
	logger    *log.Logger
	store     Store
	cipher    *Cipher
	allowlist map[string]bool
	nowFunc   func() time.Time
}

func NewRegistry(logger *log.Logger, store Store, cipher *Cipher, allowedProviders []string) *Registry {
	allowlist := make(map[string]bool, len(allowedProviders))
	for _, id := range allowedProviders {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			allowlist[id] = true
		}
	}
	return &Registry{
		logger:    logger,
		store:     store,
		cipher:    cipher,
		allowlist: allowlist,
		nowFunc:   time.Now,
	}
}

// Connect creates a profile for an allowlisted provider, sealing the secret
// before it is persisted.
func (r *Registry) Connect(ctx context.Context, providerID, tenantID string, scope OwnerScope, secret string, meta ProfileMetadata) (ProfileRecord, error) {
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	if !r.allowlist[providerID] {
		return ProfileRecord{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, providerID)
	}
	if strings.TrimSpace(secret) == "" {
		return ProfileRecord{}, fmt.Errorf("secret is required")
	}

	now := r.nowFunc().UTC()
	rec := ProfileRecord{
		ProfileID:    ids.New(),
		ProviderID:   providerID,
		TenantID:     strings.TrimSpace(tenantID),
		OwnerScope:   scope,
		Endpoint:     strings.TrimSpace(meta.Endpoint),
		Capabilities: meta.Capabilities,
		Priority:     meta.Priority,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sealed, err := r.cipher.Seal(rec.ProfileID, secret)
	if err != nil {
		return ProfileRecord{}, fmt.Errorf("seal secret: %w", err)
	}
	rec.SecretCiphertext = sealed

	if err := r.store.CreateProfile(ctx, rec); err != nil {
		return ProfileRecord{}, err
	}
	r.logger.Printf("profile connected profile_id=%s provider=%s scope=%s", rec.ProfileID, providerID, scope)
	return rec, nil
}

// RotateSecret replaces the sealed secret and grants the profile fresh
// trust: failures and cooldown are cleared and an auto-disabled profile is
// re-enabled.
func (r *Registry) RotateSecret(ctx context.Context, profileID, newSecret string) error {
	if strings.TrimSpace(newSecret) == "" {
		return fmt.Errorf("secret is required")
	}
	sealed, err := r.cipher.Seal(profileID, newSecret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}

	err = r.mutate(ctx, profileID, func(rec *ProfileRecord) {
		rec.SecretCiphertext = sealed
		rec.ConsecutiveFailures = 0
		rec.CooldownUntil = time.Time{}
		rec.Enabled = true
		rec.DisabledReason = ""
	})
	if err != nil {
		return err
	}
	r.logger.Printf("profile secret rotated profile_id=%s", profileID)
	return nil
}

// Resolve decrypts the profile secret for one outbound call.
func (r *Registry) Resolve(ctx context.Context, profileID string) (ResolvedSecret, error) {
	rec, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return ResolvedSecret{}, err
	}
	if !rec.Enabled {
		return ResolvedSecret{}, fmt.Errorf("profile %s is disabled", profileID)
	}
	secret, err := r.cipher.Open(rec.ProfileID, rec.SecretCiphertext)
	if err != nil {
		return ResolvedSecret{}, err
	}
	return ResolvedSecret{ProfileID: rec.ProfileID, Secret: secret, Endpoint: rec.Endpoint}, nil
}

// Revoke disables a profile. Turns holding it fail over on their next
// attempt.
func (r *Registry) Revoke(ctx context.Context, profileID string) error {
	err := r.mutate(ctx, profileID, func(rec *ProfileRecord) {
		rec.Enabled = false
		rec.DisabledReason = string(FailureRevoked)
	})
	if err != nil {
		return err
	}
	r.logger.Printf("profile revoked profile_id=%s", profileID)
	return nil
}

func (r *Registry) mutate(ctx context.Context, profileID string, apply func(*ProfileRecord)) error {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		rec, err := r.store.GetProfile(ctx, profileID)
		if err != nil {
			return err
		}
		apply(&rec)
		if _, err := r.store.UpdateProfile(ctx, rec); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("profile %s: %w", profileID, ErrVersionConflict)
}
