package credential

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	store, err := NewGormStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func gormProfile(profileID, providerID, tenantID string, scope OwnerScope) ProfileRecord {
	now := time.Now().UTC()
	return ProfileRecord{
		ProfileID:        profileID,
		ProviderID:       providerID,
		TenantID:         tenantID,
		OwnerScope:       scope,
		SecretCiphertext: "sealed",
		Enabled:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestGormStoreProfileCreateAndGet(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.CreateProfile(ctx, gormProfile("p1", "alpha", "", ScopePlatform)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := store.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Version != 1 || got.ProviderID != "alpha" || !got.Enabled {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if _, err := store.GetProfile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.CreateProfile(ctx, gormProfile("p2", "alpha", "t1", ScopePlatform)); err == nil {
		t.Fatalf("platform profile with tenant must be rejected")
	}
}

func TestGormStoreListProfilesScopesTenants(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	seeds := []ProfileRecord{
		gormProfile("p1", "alpha", "", ScopePlatform),
		gormProfile("p2", "alpha", "t1", ScopeOrganization),
		gormProfile("p3", "alpha", "t2", ScopeOrganization),
		gormProfile("p4", "beta", "t1", ScopeOrganization),
	}
	for _, seed := range seeds {
		if err := store.CreateProfile(ctx, seed); err != nil {
			t.Fatalf("create %s failed: %v", seed.ProfileID, err)
		}
	}

	orgAlpha, err := store.ListProfiles(ctx, "alpha", ScopeOrganization, "t1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orgAlpha) != 1 || orgAlpha[0].ProfileID != "p2" {
		t.Fatalf("tenant scoping leaked profiles: %+v", orgAlpha)
	}

	platform, err := store.ListProfiles(ctx, "alpha", ScopePlatform, "t1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(platform) != 1 || platform[0].ProfileID != "p1" {
		t.Fatalf("unexpected platform pool: %+v", platform)
	}
}

func TestGormStoreUpdateProfileVersionConflict(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.CreateProfile(ctx, gormProfile("p1", "alpha", "", ScopePlatform)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	rec, err := store.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	rec.ConsecutiveFailures = 2
	updated, err := store.UpdateProfile(ctx, rec)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Version != rec.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", rec.Version+1, updated.Version)
	}

	// The first writer consumed the version; the stale copy must lose.
	rec.ConsecutiveFailures = 9
	if _, err := store.UpdateProfile(ctx, rec); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := store.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ConsecutiveFailures != 2 {
		t.Fatalf("stale write landed: %d", got.ConsecutiveFailures)
	}

	missing := gormProfile("ghost", "alpha", "", ScopePlatform)
	missing.Version = 1
	if _, err := store.UpdateProfile(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
