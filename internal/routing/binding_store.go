package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"relaystack.local/relay-gateway/internal/credential"
	dbpkg "relaystack.local/relay-gateway/internal/db"
)

type MemoryBindingStore struct {
	mu       sync.Mutex
	bindings map[string]BindingRecord
	closed   bool
}

func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{bindings: make(map[string]BindingRecord)}
}

func (s *MemoryBindingStore) CreateBinding(_ context.Context, rec BindingRecord) error {
	if err := validateBinding(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	if _, ok := s.bindings[rec.BindingID]; ok {
		return fmt.Errorf("binding %s already exists", rec.BindingID)
	}
	s.bindings[rec.BindingID] = rec
	return nil
}

func (s *MemoryBindingStore) ListBindings(_ context.Context, tenantID, channel, installationID string) ([]BindingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	out := make([]BindingRecord, 0)
	for _, rec := range s.bindings {
		if rec.TenantID == tenantID && rec.Channel == channel && rec.InstallationID == installationID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryBindingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type bindingRow struct {
	BindingID             string    `gorm:"primaryKey;size:64"`
	TenantID              string    `gorm:"size:191;index:idx_bindings_route,priority:1;not null"`
	Channel               string    `gorm:"size:191;index:idx_bindings_route,priority:2;not null"`
	InstallationID        string    `gorm:"size:191;index:idx_bindings_route,priority:3;not null"`
	AccountID             string    `gorm:"size:191"`
	TeamID                string    `gorm:"size:191"`
	PeerID                string    `gorm:"size:191"`
	ChannelTopicID        string    `gorm:"size:191"`
	OwnerScope            string    `gorm:"size:32;not null"`
	AllowPlatformFallback bool      `gorm:"not null"`
	Priority              int       `gorm:"not null"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (bindingRow) TableName() string {
	return "channel_bindings"
}

func (r bindingRow) toRecord() BindingRecord {
	return BindingRecord{
		BindingID:             r.BindingID,
		TenantID:              r.TenantID,
		Channel:               r.Channel,
		InstallationID:        r.InstallationID,
		AccountID:             r.AccountID,
		TeamID:                r.TeamID,
		PeerID:                r.PeerID,
		ChannelTopicID:        r.ChannelTopicID,
		OwnerScope:            credential.OwnerScope(r.OwnerScope),
		AllowPlatformFallback: r.AllowPlatformFallback,
		Priority:              r.Priority,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

type GormBindingStore struct {
	db *gorm.DB
}

func NewGormBindingStore(driver, dsn string) (*GormBindingStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open binding store: %w", err)
	}
	return NewGormBindingStoreFromDB(gormDB)
}

func NewGormBindingStoreFromDB(gormDB *gorm.DB) (*GormBindingStore, error) {
	store := &GormBindingStore{db: gormDB}
	if err := store.db.AutoMigrate(&bindingRow{}); err != nil {
		return nil, fmt.Errorf("migrate binding store: %w", err)
	}
	return store, nil
}

func (s *GormBindingStore) CreateBinding(ctx context.Context, rec BindingRecord) error {
	if err := validateBinding(rec); err != nil {
		return err
	}
	row := bindingRow{
		BindingID:             rec.BindingID,
		TenantID:              rec.TenantID,
		Channel:               rec.Channel,
		InstallationID:        rec.InstallationID,
		AccountID:             rec.AccountID,
		TeamID:                rec.TeamID,
		PeerID:                rec.PeerID,
		ChannelTopicID:        rec.ChannelTopicID,
		OwnerScope:            string(rec.OwnerScope),
		AllowPlatformFallback: rec.AllowPlatformFallback,
		Priority:              rec.Priority,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create binding: %w", err)
	}
	return nil
}

func (s *GormBindingStore) ListBindings(ctx context.Context, tenantID, channel, installationID string) ([]BindingRecord, error) {
	var rows []bindingRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND installation_id = ?", tenantID, channel, installationID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	out := make([]BindingRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormBindingStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
