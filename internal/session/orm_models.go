package session

import "time"

type sessionRow struct {
	SessionID      string    `gorm:"primaryKey;size:64"`
	TenantID       string    `gorm:"size:191;not null"`
	Channel        string    `gorm:"size:191;not null"`
	InstallationID string    `gorm:"size:191"`
	PeerID         string    `gorm:"size:191"`
	AgentID        string    `gorm:"size:191;not null"`
	RoutingKey     string    `gorm:"size:64;uniqueIndex;not null"`
	ActiveTurnID   string    `gorm:"size:64"`
	Active         bool      `gorm:"not null"`
	LastActivityAt time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toRecord() SessionRecord {
	return SessionRecord{
		SessionID:      r.SessionID,
		TenantID:       r.TenantID,
		Channel:        r.Channel,
		InstallationID: r.InstallationID,
		PeerID:         r.PeerID,
		AgentID:        r.AgentID,
		RoutingKey:     r.RoutingKey,
		ActiveTurnID:   r.ActiveTurnID,
		Active:         r.Active,
		LastActivityAt: r.LastActivityAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func sessionRowFromRecord(rec SessionRecord) sessionRow {
	return sessionRow{
		SessionID:      rec.SessionID,
		TenantID:       rec.TenantID,
		Channel:        rec.Channel,
		InstallationID: rec.InstallationID,
		PeerID:         rec.PeerID,
		AgentID:        rec.AgentID,
		RoutingKey:     rec.RoutingKey,
		ActiveTurnID:   rec.ActiveTurnID,
		Active:         rec.Active,
		LastActivityAt: rec.LastActivityAt,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}
