package persistence

import (
	"encoding/json"
	"fmt"

	"isxlicense/internal/audit"
	"isxlicense/internal/license"
	"isxlicense/internal/revocation"
)

func toLicenseKeyModel(e license.CatalogEntry) licenseKeyModel {
	return licenseKeyModel{
		LicenseID:           e.LicenseID,
		LicenseType:         string(e.LicenseType),
		HardwareFingerprint: e.HardwareFingerprint,
		EncryptedPayload:    e.Token,
		MaxActivations:      e.MaxActivations,
		CurrentActivations:  e.CurrentActivations,
		ExpiresAt:           e.ExpiresAt,
		IsActive:            e.IsActive,
		CreatedAt:           e.CreatedAt.UTC(),
	}
}

func toCatalogEntry(m licenseKeyModel) license.CatalogEntry {
	e := license.CatalogEntry{
		LicenseID:           m.LicenseID,
		LicenseType:         license.Tier(m.LicenseType),
		Token:               m.EncryptedPayload,
		HardwareFingerprint: m.HardwareFingerprint,
		MaxActivations:      m.MaxActivations,
		CurrentActivations:  m.CurrentActivations,
		IsActive:            m.IsActive,
		CreatedAt:           m.CreatedAt.UTC(),
	}
	if m.ExpiresAt != nil {
		t := m.ExpiresAt.UTC()
		e.ExpiresAt = &t
	}
	return e
}

func toRevocationModel(e revocation.Entry) revocationModel {
	return revocationModel{
		LicenseID:   e.LicenseID,
		RevokedAt:   e.RevokedAt,
		Reason:      e.Reason,
		IsPermanent: e.IsPermanent,
		ReinstateAt: e.ReinstateAt,
	}
}

func toRevocationEntry(m revocationModel) revocation.Entry {
	e := revocation.Entry{
		LicenseID:   m.LicenseID,
		RevokedAt:   m.RevokedAt.UTC(),
		Reason:      m.Reason,
		IsPermanent: m.IsPermanent,
	}
	if m.ReinstateAt != nil {
		t := m.ReinstateAt.UTC()
		e.ReinstateAt = &t
	}
	return e
}

// toSecurityEventModel keeps the whole normalised event in event_data
func toSecurityEventModel(e audit.Event) (securityEventModel, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return securityEventModel{}, fmt.Errorf("encode event data: %w", err)
	}
	return securityEventModel{
		EventID:        e.ID,
		EventTimestamp: e.Timestamp,
		EventType:      string(e.Type),
		Severity:       string(e.Severity),
		LicenseID:      nullableString(e.LicenseID),
		EventData:      string(data),
	}, nil
}

func toAuditEvent(m securityEventModel) (audit.Event, error) {
	var e audit.Event
	if err := json.Unmarshal([]byte(m.EventData), &e); err != nil {
		return audit.Event{}, fmt.Errorf("decode event data: %w", err)
	}
	// columns are authoritative
	e.Type = audit.EventType(m.EventType)
	e.Severity = audit.Severity(m.Severity)
	e.LicenseID = derefString(m.LicenseID)
	e.Timestamp = m.EventTimestamp.UTC()
	return e, nil
}

func toValidationLogModel(e audit.Event) validationLogModel {
	return validationLogModel{
		LicenseID:           nullableString(e.LicenseID),
		ValidationTimestamp: e.Timestamp,
		Outcome:             e.Outcome,
		HardwareFingerprint: e.Fingerprint,
		ProcessingTimeMS:    e.ProcessingTime.Milliseconds(),
		ErrorMessage:        e.Error,
	}
}
