package credential

import (
	"strings"
	"time"
)

type profileRow struct {
	ProfileID           string    `gorm:"primaryKey;size:64"`
	ProviderID          string    `gorm:"size:191;index:idx_profiles_pool,priority:1;not null"`
	TenantID            string    `gorm:"size:191;index:idx_profiles_pool,priority:3"`
	OwnerScope          string    `gorm:"size:32;index:idx_profiles_pool,priority:2;not null"`
	SecretCiphertext    string    `gorm:"type:text;not null"`
	Endpoint            string    `gorm:"size:512"`
	Capabilities        string    `gorm:"type:text"`
	Priority            int       `gorm:"not null"`
	Enabled             bool      `gorm:"not null"`
	DisabledReason      string    `gorm:"size:191"`
	ConsecutiveFailures int       `gorm:"not null"`
	CooldownUntil       time.Time `gorm:""`
	LastUsedAt          time.Time `gorm:""`
	Version             int64     `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (profileRow) TableName() string {
	return "credential_profiles"
}

func (r profileRow) toRecord() ProfileRecord {
	rec := ProfileRecord{
		ProfileID:           r.ProfileID,
		ProviderID:          r.ProviderID,
		TenantID:            r.TenantID,
		OwnerScope:          OwnerScope(r.OwnerScope),
		SecretCiphertext:    r.SecretCiphertext,
		Endpoint:            r.Endpoint,
		Priority:            r.Priority,
		Enabled:             r.Enabled,
		DisabledReason:      r.DisabledReason,
		ConsecutiveFailures: r.ConsecutiveFailures,
		CooldownUntil:       r.CooldownUntil,
		LastUsedAt:          r.LastUsedAt,
		Version:             r.Version,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.Capabilities != "" {
		rec.Capabilities = strings.Split(r.Capabilities, ",")
	}
	return rec
}

func profileRowFromRecord(rec ProfileRecord) profileRow {
	return profileRow{
		ProfileID:           rec.ProfileID,
		ProviderID:          rec.ProviderID,
		TenantID:            rec.TenantID,
		OwnerScope:          string(rec.OwnerScope),
		SecretCiphertext:    rec.SecretCiphertext,
		Endpoint:            rec.Endpoint,
		Capabilities:        strings.Join(rec.Capabilities, ","),
		Priority:            rec.Priority,
		Enabled:             rec.Enabled,
		DisabledReason:      rec.DisabledReason,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		CooldownUntil:       rec.CooldownUntil,
		LastUsedAt:          rec.LastUsedAt,
		Version:             rec.Version,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}
