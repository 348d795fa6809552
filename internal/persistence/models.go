package persistence

import "time"

type licenseKeyModel struct {
	ID                  int64      `gorm:"column:id;primaryKey"`
	LicenseID           string     `gorm:"column:license_id;uniqueIndex"`
	LicenseType         string     `gorm:"column:license_type"`
	HardwareFingerprint string     `gorm:"column:hardware_fingerprint"`
	EncryptedPayload    string     `gorm:"column:encrypted_payload"`
	MaxActivations      int        `gorm:"column:max_activations"`
	CurrentActivations  int        `gorm:"column:current_activations"`
	ExpiresAt           *time.Time `gorm:"column:expires_at"`
	IsActive            bool       `gorm:"column:is_active"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
}

func (licenseKeyModel) TableName() string { return "license_keys" }

type validationLogModel struct {
	ID                  int64     `gorm:"column:id;primaryKey"`
	LicenseID           *string   `gorm:"column:license_id"`
	ValidationTimestamp time.Time `gorm:"column:validation_timestamp"`
	Outcome             string    `gorm:"column:outcome"`
	HardwareFingerprint string    `gorm:"column:hardware_fingerprint"`
	ProcessingTimeMS    int64     `gorm:"column:processing_time_ms"`
	ErrorMessage        string    `gorm:"column:error_message"`
}

func (validationLogModel) TableName() string { return "license_validation_log" }

type revocationModel struct {
	ID          int64      `gorm:"column:id;primaryKey"`
	LicenseID   string     `gorm:"column:license_id"`
	RevokedAt   time.Time  `gorm:"column:revoked_at"`
	Reason      string     `gorm:"column:reason"`
	IsPermanent bool       `gorm:"column:is_permanent"`
	ReinstateAt *time.Time `gorm:"column:reinstate_at"`
}

func (revocationModel) TableName() string { return "license_revocation" }

type securityEventModel struct {
	ID             int64     `gorm:"column:id;primaryKey"`
	EventID        string    `gorm:"column:event_id;type:uuid"`
	EventTimestamp time.Time `gorm:"column:event_timestamp"`
	EventType      string    `gorm:"column:event_type"`
	Severity       string    `gorm:"column:severity"`
	LicenseID      *string   `gorm:"column:license_id"`
	EventData      string    `gorm:"column:event_data;type:jsonb"`
}

func (securityEventModel) TableName() string { return "security_events" }

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
