package credential

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"
)

func newTestRotator(t *testing.T, policy BackoffPolicy) (*Rotator, *MemoryStore) {
	t.Helper()
	logger := log.New(os.Stdout, "", 0)
	store := NewMemoryStore()
	return NewRotator(logger, store, policy), store
}

func seedProfile(t *testing.T, store *MemoryStore, rec ProfileRecord) {
	t.Helper()
	if rec.OwnerScope == "" {
		rec.OwnerScope = ScopePlatform
	}
	rec.Enabled = true
	if err := store.CreateProfile(context.Background(), rec); err != nil {
		t.Fatalf("seed profile %s: %v", rec.ProfileID, err)
	}
}

func TestSelectProfileOrdering(t *testing.T) {
	rotator, store := newTestRotator(t, DefaultBackoffPolicy())
	ctx := context.Background()

	seedProfile(t, store, ProfileRecord{ProfileID: "low", ProviderID: "alpha", Priority: 1})
	seedProfile(t, store, ProfileRecord{ProfileID: "high", ProviderID: "alpha", Priority: 5})
	seedProfile(t, store, ProfileRecord{ProfileID: "bruised", ProviderID: "alpha", Priority: 5, ConsecutiveFailures: 2})

	got, err := rotator.SelectProfile(ctx, "alpha", ScopePlatform, "", nil)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if got.ProfileID != "high" {
		t.Fatalf("expected high-priority clean profile, got %s", got.ProfileID)
	}

	got, err = rotator.SelectProfile(ctx, "alpha", ScopePlatform, "", map[string]bool{"high": true})
	if err != nil {
		t.Fatalf("select with exclusion failed: %v", err)
	}
	if got.ProfileID != "bruised" {
		t.Fatalf("expected same-priority profile over lower priority, got %s", got.ProfileID)
	}
}

func TestSelectProfilePrefersLeastRecentlyUsed(t *testing.T) {
	rotator, store := newTestRotator(t, DefaultBackoffPolicy())
	ctx := context.Background()

	seedProfile(t, store, ProfileRecord{ProfileID: "p1", ProviderID: "alpha"})
	seedProfile(t, store, ProfileRecord{ProfileID: "p2", ProviderID: "alpha"})

	first, err := rotator.SelectProfile(ctx, "alpha", ScopePlatform, "", nil)
	if err != nil {
		t.Fatalf("first select failed: %v", err)
	}
	second, err := rotator.SelectProfile(ctx, "alpha", ScopePlatform, "", nil)
	if err != nil {
		t.Fatalf("second select failed: %v", err)
	}
	if first.ProfileID == second.ProfileID {
		t.Fatalf("expected rotation across the pool, got %s twice", first.ProfileID)
	}
}

func TestSelectProfileSkipsCooldownAndDisabled(t *testing.T) {
	rotator, store := newTestRotator(t, DefaultBackoffPolicy())
	ctx := context.Background()

	seedProfile(t, store, ProfileRecord{
		ProfileID:     "cooling",
		ProviderID:    "alpha",
		CooldownUntil: time.Now().UTC().Add(time.Hour),
	})
	seedProfile(t, store, ProfileRecord{ProfileID: "dead", ProviderID: "alpha"})
	if err := rotator.RecordFailure(ctx, "dead", FailureRevoked); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	_, err := rotator.SelectProfile(ctx, "alpha", ScopePlatform, "", nil)
	if !errors.Is(err, ErrNoEligibleProfile) {
		t.Fatalf("expected ErrNoEligibleProfile, got %v", err)
	}
}

func TestCooldownGrowsMonotonicallyToCap(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Cap: 4 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, expected := range want {
		if got := policy.CooldownAfter(i + 1); got != expected {
			t.Fatalf("CooldownAfter(%d) = %s, want %s", i+1, got, expected)
		}
	}

	rotator, store := newTestRotator(t, policy)
	ctx := context.Background()
	seedProfile(t, store, ProfileRecord{ProfileID: "p1", ProviderID: "alpha"})

	prev := time.Duration(0)
	for i := 0; i < 5; i++ {
		before := time.Now().UTC()
		if err := rotator.RecordFailure(ctx, "p1", FailureTimeout); err != nil {
			t.Fatalf("record failure %d: %v", i+1, err)
		}
		rec, err := store.GetProfile(ctx, "p1")
		if err != nil {
			t.Fatalf("get profile: %v", err)
		}
		cooldown := rec.CooldownUntil.Sub(before)
		if cooldown < prev {
			t.Fatalf("cooldown shrank: %s -> %s after failure %d", prev, cooldown, i+1)
		}
		if cooldown > policy.Cap+time.Second {
			t.Fatalf("cooldown %s exceeds cap %s", cooldown, policy.Cap)
		}
		prev = cooldown
	}
}

func TestRecordFailurePermanentDisables(t *testing.T) {
	rotator, store := newTestRotator(t, DefaultBackoffPolicy())
	ctx := context.Background()
	seedProfile(t, store, ProfileRecord{ProfileID: "p1", ProviderID: "alpha"})

	if err := rotator.RecordFailure(ctx, "p1", FailureBillingDisabled); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	rec, err := store.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if rec.Enabled {
		t.Fatalf("expected profile disabled after billing failure")
	}
	if rec.DisabledReason != string(FailureBillingDisabled) {
		t.Fatalf("unexpected disabled reason %q", rec.DisabledReason)
	}
}

func TestRecordSuccessResetsFailuresNotCooldown(t *testing.T) {
	rotator, store := newTestRotator(t, BackoffPolicy{Base: time.Hour, Cap: time.Hour})
	ctx := context.Background()
	seedProfile(t, store, ProfileRecord{ProfileID: "p1", ProviderID: "alpha"})

	if err := rotator.RecordFailure(ctx, "p1", FailureServerError); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := rotator.RecordSuccess(ctx, "p1"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	rec, err := store.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Fatalf("expected failure counter reset, got %d", rec.ConsecutiveFailures)
	}
	if !rec.CooldownUntil.After(time.Now().UTC()) {
		t.Fatalf("expected cooldown to remain in force after success")
	}
}

func TestUpdateProfileVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, store, ProfileRecord{ProfileID: "p1", ProviderID: "alpha"})

	rec, err := store.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if _, err := store.UpdateProfile(ctx, rec); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if _, err := store.UpdateProfile(ctx, rec); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on stale write, got %v", err)
	}
}
