package turn

import "time"

type turnRow struct {
	TurnID          string    `gorm:"primaryKey;size:64"`
	TenantID        string    `gorm:"size:191;not null"`
	SessionID       string    `gorm:"size:64;index:idx_turns_pair,priority:1;not null"`
	AgentID         string    `gorm:"size:191;index:idx_turns_pair,priority:2;not null"`
	IdempotencyKey  string    `gorm:"size:191;index;not null"`
	State           string    `gorm:"size:32;index;not null"`
	LeaseToken      string    `gorm:"size:128;index"`
	LeaseExpiresAt  time.Time `gorm:"index"`
	AttemptCount    int       `gorm:"not null"`
	FailureKind     string    `gorm:"size:64"`
	Error           string    `gorm:"type:text"`
	LastHeartbeatAt time.Time `gorm:""`
	CreatedAt       time.Time `gorm:"not null"`
	CompletedAt     *time.Time
	UpdatedAt       time.Time `gorm:"not null"`
}

func (turnRow) TableName() string {
	return "turns"
}

func (r turnRow) toRecord() TurnRecord {
	rec := TurnRecord{
		TurnID:          r.TurnID,
		TenantID:        r.TenantID,
		SessionID:       r.SessionID,
		AgentID:         r.AgentID,
		IdempotencyKey:  r.IdempotencyKey,
		State:           State(r.State),
		LeaseToken:      r.LeaseToken,
		LeaseExpiresAt:  r.LeaseExpiresAt,
		AttemptCount:    r.AttemptCount,
		FailureKind:     FailKind(r.FailureKind),
		Error:           r.Error,
		LastHeartbeatAt: r.LastHeartbeatAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.CompletedAt != nil {
		rec.CompletedAt = *r.CompletedAt
	}
	return rec
}

func turnRowFromRecord(rec TurnRecord) turnRow {
	row := turnRow{
		TurnID:          rec.TurnID,
		TenantID:        rec.TenantID,
		SessionID:       rec.SessionID,
		AgentID:         rec.AgentID,
		IdempotencyKey:  rec.IdempotencyKey,
		State:           string(rec.State),
		LeaseToken:      rec.LeaseToken,
		LeaseExpiresAt:  rec.LeaseExpiresAt,
		AttemptCount:    rec.AttemptCount,
		FailureKind:     string(rec.FailureKind),
		Error:           rec.Error,
		LastHeartbeatAt: rec.LastHeartbeatAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if !rec.CompletedAt.IsZero() {
		completed := rec.CompletedAt
		row.CompletedAt = &completed
	}
	return row
}
