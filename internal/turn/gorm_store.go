package turn

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
		return nil, fmt.Errorf("open turn store: %w", err)
	}
	return NewGormStoreFromDB(gormDB)
}

func NewGormStoreFromDB(gormDB *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: gormDB}
	if err := store.db.AutoMigrate(&turnRow{}); err != nil {
		return nil, fmt.Errorf("migrate turn store: %w", err)
	}
	// The exclusivity invariant lives in the database, not in application
	// checks: at most one running row may exist per (session, agent) pair.
	// Concurrent transactions at READ COMMITTED can both pass a count check,
	// so the insert itself has to be the conditional write. Partial index
	// syntax is shared by sqlite and postgres.
	err := store.db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_running_pair " +
			"ON turns (session_id, agent_id) WHERE state = 'running'",
	).Error
	if err != nil {
		return nil, fmt.Errorf("create running pair index: %w", err)
	}
	return store, nil
}

func (s *GormStore) AcquireTurn(ctx context.Context, rec TurnRecord) (TurnRecord, error) {
	now := time.Now().UTC()
	var out TurnRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := reclaimExpiredPair(tx, rec.SessionID, rec.AgentID, now); err != nil {
			return err
		}

		// Fast pre-check; the unique running-pair index is what actually
		// arbitrates concurrent acquires.
		var running int64
		err := tx.Model(&turnRow{}).
			Where("session_id = ? AND agent_id = ? AND state = ? AND lease_expires_at > ?",
				rec.SessionID, rec.AgentID, string(StateRunning), now).
			Count(&running).Error
		if err != nil {
			return fmt.Errorf("check running turns: %w", err)
		}
		if running > 0 {
			return ErrLeaseConflict
		}

		var prior []turnRow
		err = tx.Where("session_id = ? AND agent_id = ? AND idempotency_key = ?",
			rec.SessionID, rec.AgentID, rec.IdempotencyKey).
			Find(&prior).Error
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		priorAttempts := 0
		for _, row := range prior {
			if row.State == string(StateCompleted) || row.State == string(StateSuspended) {
				return ErrDuplicateDelivery
			}
			if row.AttemptCount > priorAttempts {
				priorAttempts = row.AttemptCount
			}
		}

		rec.State = StateRunning
		rec.AttemptCount = priorAttempts
		rec.LastHeartbeatAt = now
		rec.CreatedAt = now
		rec.UpdatedAt = now
		row := turnRowFromRecord(rec)
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrLeaseConflict
			}
			return fmt.Errorf("create turn: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return TurnRecord{}, err
	}
	return out, nil
}

func (s *GormStore) HeartbeatTurn(ctx context.Context, leaseToken string, expiresAt time.Time) (TurnRecord, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&turnRow{}).
		Where("lease_token = ? AND state = ?", leaseToken, string(StateRunning)).
		Updates(map[string]any{
			"lease_expires_at":  expiresAt,
			"last_heartbeat_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return TurnRecord{}, fmt.Errorf("heartbeat turn: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return TurnRecord{}, ErrStaleLease
	}
	return s.getByToken(ctx, leaseToken)
}

func (s *GormStore) ReleaseTurn(ctx context.Context, leaseToken string, state State) (TurnRecord, error) {
	if state != StateCompleted && state != StateSuspended {
		return TurnRecord{}, fmt.Errorf("release to %q is not allowed", state)
	}

	rec, err := s.getByToken(ctx, leaseToken)
	if err != nil {
		return TurnRecord{}, err
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"state":       string(state),
		"lease_token": "",
		"updated_at":  now,
	}
	if state == StateCompleted {
		updates["completed_at"] = now
	}
	result := s.db.WithContext(ctx).
		Model(&turnRow{}).
		Where("lease_token = ? AND state = ?", leaseToken, string(StateRunning)).
		Updates(updates)
	if result.Error != nil {
		return TurnRecord{}, fmt.Errorf("release turn: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return TurnRecord{}, ErrStaleLease
	}
	return s.GetTurn(ctx, rec.TurnID)
}

func (s *GormStore) FailTurn(ctx context.Context, leaseToken string, kind FailKind, message string) (TurnRecord, error) {
	rec, err := s.getByToken(ctx, leaseToken)
	if err != nil {
		return TurnRecord{}, err
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&turnRow{}).
		Where("lease_token = ? AND state = ?", leaseToken, string(StateRunning)).
		Updates(map[string]any{
			"state":         string(StateFailed),
			"failure_kind":  string(kind),
			"error":         message,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"lease_token":   "",
			"completed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return TurnRecord{}, fmt.Errorf("fail turn: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return TurnRecord{}, ErrStaleLease
	}
	return s.GetTurn(ctx, rec.TurnID)
}

func (s *GormStore) ResumeTurn(ctx context.Context, turnID, leaseToken string, expiresAt time.Time) (TurnRecord, error) {
	now := time.Now().UTC()
	var out TurnRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row turnRow
		if err := tx.Where("turn_id = ?", turnID).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get turn: %w", err)
		}
		if row.State != string(StateSuspended) {
			return fmt.Errorf("turn %s is %s, not suspended", turnID, row.State)
		}

		if err := reclaimExpiredPair(tx, row.SessionID, row.AgentID, now); err != nil {
			return err
		}

		var running int64
		err := tx.Model(&turnRow{}).
			Where("session_id = ? AND agent_id = ? AND state = ? AND lease_expires_at > ?",
				row.SessionID, row.AgentID, string(StateRunning), now).
			Count(&running).Error
		if err != nil {
			return fmt.Errorf("check running turns: %w", err)
		}
		if running > 0 {
			return ErrLeaseConflict
		}

		result := tx.Model(&turnRow{}).
			Where("turn_id = ? AND state = ?", turnID, string(StateSuspended)).
			Updates(map[string]any{
				"state":             string(StateRunning),
				"lease_token":       leaseToken,
				"lease_expires_at":  expiresAt,
				"last_heartbeat_at": now,
				"updated_at":        now,
			})
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return ErrLeaseConflict
			}
			return fmt.Errorf("resume turn: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrLeaseConflict
		}
		if err := tx.Where("turn_id = ?", turnID).Take(&row).Error; err != nil {
			return fmt.Errorf("reload turn: %w", err)
		}
		out = row.toRecord()
		return nil
	})
	if err != nil {
		return TurnRecord{}, err
	}
	return out, nil
}

func (s *GormStore) SweepExpired(ctx context.Context, now time.Time) ([]TurnRecord, error) {
	var expired []turnRow
	err := s.db.WithContext(ctx).
		Where("state = ? AND lease_expires_at <= ?", string(StateRunning), now).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("find expired turns: %w", err)
	}

	reclaimed := make([]TurnRecord, 0, len(expired))
	for _, row := range expired {
		result := s.db.WithContext(ctx).
			Model(&turnRow{}).
			Where("turn_id = ? AND state = ? AND lease_expires_at <= ?",
				row.TurnID, string(StateRunning), now).
			Updates(map[string]any{
				"state":         string(StateFailed),
				"failure_kind":  string(FailLeaseExpired),
				"error":         "lease expired without heartbeat",
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"lease_token":   "",
				"completed_at":  now,
				"updated_at":    now,
			})
		if result.Error != nil {
			return reclaimed, fmt.Errorf("reclaim turn %s: %w", row.TurnID, result.Error)
		}
		if result.RowsAffected == 0 {
			// A heartbeat raced the sweep; the lease is live again.
			continue
		}
		rec, err := s.GetTurn(ctx, row.TurnID)
		if err != nil {
			return reclaimed, err
		}
		reclaimed = append(reclaimed, rec)
	}
	return reclaimed, nil
}

func (s *GormStore) GetTurn(ctx context.Context, turnID string) (TurnRecord, error) {
	var row turnRow
	err := s.db.WithContext(ctx).Where("turn_id = ?", turnID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TurnRecord{}, ErrNotFound
		}
		return TurnRecord{}, fmt.Errorf("get turn: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	query := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC")

	var rows []turnRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	out := make([]TurnRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// reclaimExpiredPair closes lapsed running turns for a pair the same way
// the sweep would. An expired lease must not block a fresh acquire, and the
// unique running-pair index would otherwise reject the insert until the
// next sweep pass.
func reclaimExpiredPair(tx *gorm.DB, sessionID, agentID string, now time.Time) error {
	err := tx.Model(&turnRow{}).
		Where("session_id = ? AND agent_id = ? AND state = ? AND lease_expires_at <= ?",
			sessionID, agentID, string(StateRunning), now).
		Updates(map[string]any{
			"state":         string(StateFailed),
			"failure_kind":  string(FailLeaseExpired),
			"error":         "lease expired without heartbeat",
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"lease_token":   "",
			"completed_at":  now,
			"updated_at":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("reclaim expired turns: %w", err)
	}
	return nil
}

func (s *GormStore) getByToken(ctx context.Context, leaseToken string) (TurnRecord, error) {
	var row turnRow
	err := s.db.WithContext(ctx).
		Where("lease_token = ? AND state = ?", leaseToken, string(StateRunning)).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TurnRecord{}, ErrStaleLease
		}
		return TurnRecord{}, fmt.Errorf("get turn by lease: %w", err)
	}
	return row.toRecord(), nil
}
