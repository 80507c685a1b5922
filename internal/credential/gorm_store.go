package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "relaystack.local/relay-gateway/internal/db"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	store := &GormStore{db: gormDB}
	if err := store.db.AutoMigrate(&profileRow{}); err != nil {
		return nil, fmt.Errorf("migrate credential store: %w", err)
	}
	return store, nil
}

// NewGormStoreFromDB wraps an already-open gorm handle so all stores can
// share one database.
func NewGormStoreFromDB(gormDB *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: gormDB}
	if err := store.db.AutoMigrate(&profileRow{}); err != nil {
		return nil, fmt.Errorf("migrate credential store: %w", err)
	}
	return store, nil
}

func (s *GormStore) CreateProfile(ctx context.Context, rec ProfileRecord) error {
	if err := validateProfile(rec); err != nil {
		return err
	}
	rec.Version = 1
	row := profileRowFromRecord(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *GormStore) GetProfile(ctx context.Context, profileID string) (ProfileRecord, error) {
	var row profileRow
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProfileRecord{}, ErrNotFound
		}
		return ProfileRecord{}, fmt.Errorf("get profile: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) ListProfiles(ctx context.Context, providerID string, scope OwnerScope, tenantID string) ([]ProfileRecord, error) {
	query := s.db.WithContext(ctx).
		Where("provider_id = ? AND owner_scope = ?", providerID, string(scope))
	if scope == ScopeOrganization {
		query = query.Where("tenant_id = ?", tenantID)
	}

	var rows []profileRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]ProfileRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormStore) UpdateProfile(ctx context.Context, rec ProfileRecord) (ProfileRecord, error) {
	expected := rec.Version
	rec.Version = expected + 1
	rec.UpdatedAt = time.Now().UTC()
	row := profileRowFromRecord(rec)

	result := s.db.WithContext(ctx).
		Model(&profileRow{}).
		Where("profile_id = ? AND version = ?", rec.ProfileID, expected).
		Select("*").
		Omit("profile_id", "created_at").
		Updates(&row)
	if result.Error != nil {
		return ProfileRecord{}, fmt.Errorf("update profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetProfile(ctx, rec.ProfileID); errors.Is(err, ErrNotFound) {
			return ProfileRecord{}, ErrNotFound
		}
		return ProfileRecord{}, ErrVersionConflict
	}
	return rec, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
