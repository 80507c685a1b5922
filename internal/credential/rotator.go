package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"
)

// ErrNoEligibleProfile signals that the credential pool for a provider is
// exhausted. It is the trigger for stage-2 model fallback.
var ErrNoEligibleProfile = errors.New("no eligible credential profile")

// BackoffPolicy shapes the cooldown imposed after consecutive failures:
// min(Base * 2^(failures-1), Cap).
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: 30 * time.Second, Cap: 30 * time.Minute}
}

func (p BackoffPolicy) CooldownAfter(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Rotator selects eligible profiles from a provider's pool and tracks their
// failure state.
type Rotator struct {
	logger  *log.Logger
	store   Store
	policy  BackoffPolicy
	nowFunc func() time.Time
}

func NewRotator(logger *log.Logger, store Store, policy BackoffPolicy) *Rotator {
	if policy.Base <= 0 {
		policy = DefaultBackoffPolicy()
	}
	return &Rotator{
		logger:  logger,
		store:   store,
		policy:  policy,
		nowFunc: time.Now,
	}
}

// SelectProfile returns the best eligible profile for the provider pool:
// enabled, out of cooldown, and not excluded. Ordering is priority first,
// then fewest consecutive failures, then least recently used.
func (r *Rotator) SelectProfile(ctx context.Context, providerID string, scope OwnerScope, tenantID string, exclude map[string]bool) (ProfileRecord, error) {
	profiles, err := r.store.ListProfiles(ctx, providerID, scope, tenantID)
	if err != nil {
		return ProfileRecord{}, fmt.Errorf("list profiles: %w", err)
	}

	now := r.nowFunc().UTC()
	eligible := profiles[:0]
	for _, rec := range profiles {
		if !rec.Enabled || exclude[rec.ProfileID] {
			continue
		}
		if rec.CooldownUntil.After(now) {
			continue
		}
		eligible = append(eligible, rec)
	}
	if len(eligible) == 0 {
		return ProfileRecord{}, fmt.Errorf("provider %s scope %s: %w", providerID, scope, ErrNoEligibleProfile)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if eligible[i].ConsecutiveFailures != eligible[j].ConsecutiveFailures {
			return eligible[i].ConsecutiveFailures < eligible[j].ConsecutiveFailures
		}
		return eligible[i].LastUsedAt.Before(eligible[j].LastUsedAt)
	})

	selected := eligible[0]
	selected.LastUsedAt = now
	updated, err := r.store.UpdateProfile(ctx, selected)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Someone else touched the row between list and update. The
			// selection itself is still valid; return the stored state.
			return r.store.GetProfile(ctx, selected.ProfileID)
		}
		return ProfileRecord{}, err
	}
	return updated, nil
}

// RecordFailure penalizes a profile. Transient kinds impose a capped
// exponential cooldown; billing_disabled and revoked disable the profile.
func (r *Rotator) RecordFailure(ctx context.Context, profileID string, kind FailureKind) error {
	return r.mutate(ctx, profileID, func(rec *ProfileRecord) {
		rec.ConsecutiveFailures++
		rec.CooldownUntil = r.nowFunc().UTC().Add(r.policy.CooldownAfter(rec.ConsecutiveFailures))
		if kind.Permanent() {
			rec.Enabled = false
			rec.DisabledReason = string(kind)
		}
		r.logger.Printf("profile failure profile_id=%s kind=%s failures=%d cooldown_until=%s enabled=%t",
			profileID, kind, rec.ConsecutiveFailures, rec.CooldownUntil.Format(time.RFC3339), rec.Enabled)
	})
}

// RecordSuccess resets the failure counter. An already-imposed cooldown is
// not cleared early; cooldown is strictly time-based once set.
func (r *Rotator) RecordSuccess(ctx context.Context, profileID string) error {
	return r.mutate(ctx, profileID, func(rec *ProfileRecord) {
		rec.ConsecutiveFailures = 0
	})
}

func (r *Rotator) mutate(ctx context.Context, profileID string, apply func(*ProfileRecord)) error {
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
