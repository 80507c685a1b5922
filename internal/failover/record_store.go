package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	dbpkg "relaystack.local/relay-gateway/internal/db"
)

type MemoryRecordStore struct {
	mu      sync.Mutex
	records []AttemptRecord
	closed  bool
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

func (s *MemoryRecordStore) AppendRecord(_ context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryRecordStore) ListRecords(_ context.Context, turnID string) ([]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	out := make([]AttemptRecord, 0)
	for _, rec := range s.records {
		if rec.TurnID == turnID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type attemptRow struct {
	RecordID      string    `gorm:"primaryKey;size:64"`
	TurnID        string    `gorm:"size:64;index;not null"`
	Stage         string    `gorm:"size:32;not null"`
	ProviderID    string    `gorm:"size:191;not null"`
	ModelID       string    `gorm:"size:191;not null"`
	FromProfileID string    `gorm:"size:64"`
	ToProfileID   string    `gorm:"size:64"`
	FromModelID   string    `gorm:"size:191"`
	ToModelID     string    `gorm:"size:191"`
	Reason        string    `gorm:"type:text"`
	OccurredAt    time.Time `gorm:"not null"`
}

func (attemptRow) TableName() string {
	return "failover_attempts"
}

type GormRecordStore struct {
	db *gorm.DB
}

func NewGormRecordStore(driver, dsn string) (*GormRecordStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open failover record store: %w", err)
	}
	return NewGormRecordStoreFromDB(gormDB)
}

func NewGormRecordStoreFromDB(gormDB *gorm.DB) (*GormRecordStore, error) {
	store := &GormRecordStore{db: gormDB}
	if err := store.db.AutoMigrate(&attemptRow{}); err != nil {
		return nil, fmt.Errorf("migrate failover record store: %w", err)
	}
	return store, nil
}

func (s *GormRecordStore) AppendRecord(ctx context.Context, rec AttemptRecord) error {
	row := attemptRow{
		RecordID:      rec.RecordID,
		TurnID:        rec.TurnID,
		Stage:         string(rec.Stage),
		ProviderID:    rec.ProviderID,
		ModelID:       rec.ModelID,
		FromProfileID: rec.FromProfileID,
		ToProfileID:   rec.ToProfileID,
		FromModelID:   rec.FromModelID,
		ToModelID:     rec.ToModelID,
		Reason:        rec.Reason,
		OccurredAt:    rec.OccurredAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append failover record: %w", err)
	}
	return nil
}

func (s *GormRecordStore) ListRecords(ctx context.Context, turnID string) ([]AttemptRecord, error) {
	var rows []attemptRow
	err := s.db.WithContext(ctx).
		Where("turn_id = ?", turnID).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list failover records: %w", err)
	}
	out := make([]AttemptRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, AttemptRecord{
			RecordID:      row.RecordID,
			TurnID:        row.TurnID,
			Stage:         Stage(row.Stage),
			ProviderID:    row.ProviderID,
			ModelID:       row.ModelID,
			FromProfileID: row.FromProfileID,
			ToProfileID:   row.ToProfileID,
			FromModelID:   row.FromModelID,
			ToModelID:     row.ToModelID,
			Reason:        row.Reason,
			OccurredAt:    row.OccurredAt,
		})
	}
	return out, nil
}

func (s *GormRecordStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
