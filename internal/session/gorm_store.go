package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "relaystack.local/relay-gateway/internal/db"
	"relaystack.local/relay-gateway/internal/ids"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return NewGormStoreFromDB(gormDB)
}

func NewGormStoreFromDB(gormDB *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: gormDB}
	if err := store.db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return store, nil
}

func (s *GormStore) ResolveSession(ctx context.Context, id Identity) (SessionRecord, error) {
	now := time.Now().UTC()
	key := ComputeRoutingKey(id)

	var out SessionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		err := tx.Where("routing_key = ?", key).Take(&row).Error
		if err == nil {
			out = row.toRecord()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("get session: %w", err)
		}

		legacyKey := LegacyRoutingKey(id.TenantID, id.Channel, id.AgentID)
		err = tx.Where("routing_key = ?", legacyKey).Take(&row).Error
		if err == nil {
			promoted := promote(row.toRecord(), id, now)
			promotedRow := sessionRowFromRecord(promoted)
			if err := tx.Save(&promotedRow).Error; err != nil {
				return fmt.Errorf("promote session: %w", err)
			}
			out = promoted
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("get legacy session: %w", err)
		}

		rec := newSessionRecord(id, ids.New(), now)
		createRow := sessionRowFromRecord(rec)
		if err := tx.Create(&createRow).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		// A concurrent resolver may have created the session first; the
		// unique routing_key index rejects the duplicate. Re-read.
		var row sessionRow
		if takeErr := s.db.WithContext(ctx).Where("routing_key = ?", key).Take(&row).Error; takeErr == nil {
			return row.toRecord(), nil
		}
		return SessionRecord{}, err
	}
	return out, nil
}

func (s *GormStore) GetByRoutingKey(ctx context.Context, routingKey string) (SessionRecord, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("routing_key = ?", routingKey).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) TouchActivity(ctx context.Context, sessionID, activeTurnID string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"active_turn_id":   activeTurnID,
			"last_activity_at": now,
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("touch session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Deactivate(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"active":         false,
			"active_turn_id": "",
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("deactivate session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
