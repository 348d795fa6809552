// Package domain contains the request and response contracts shared by the
// HTTP API and licensectl.
package domain

import (
	"time"
)

// LicenseStatus is the user-facing summary of a license
type LicenseStatus string

const (
	LicenseStatusActive       LicenseStatus = "active"
	LicenseStatusWarning      LicenseStatus = "warning"
	LicenseStatusCritical     LicenseStatus = "critical"
	LicenseStatusExpired      LicenseStatus = "expired"
	LicenseStatusRevoked      LicenseStatus = "revoked"
	LicenseStatusPending      LicenseStatus = "pending"
	LicenseStatusNotActivated LicenseStatus = "not_activated"
	LicenseStatusInvalid      LicenseStatus = "invalid"
	LicenseStatusError        LicenseStatus = "error"
)

// LicenseActivationRequest represents a license activation request. The key
// is either an ISX-XXXX-XXXX-XXXX-XXXX license key or a full token.
type LicenseActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=4096,licensekey"`
	Email      string `json:"email" validate:"required,email,max=254"`
}

// LicenseActivationResponse represents a license activation response
type LicenseActivationResponse struct {
	Success     bool       `json:"success"`
	Outcome     string     `json:"outcome"`
	State       string     `json:"state"`
	LicenseID   string     `json:"license_id,omitempty"`
	LicenseType string     `json:"license_type,omitempty"`
	Features    []string   `json:"features,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	NewBinding  bool       `json:"new_binding,omitempty"`
	Message     string     `json:"message"`
	Error       string     `json:"error,omitempty"`
	TraceID     string     `json:"trace_id"`
}

// LicenseStatusResponse represents the standardized license status response
type LicenseStatusResponse struct {
	LicenseStatus  LicenseStatus `json:"license_status"`
	State          string        `json:"state"`
	Outcome        string        `json:"outcome"`
	LicenseID      string        `json:"license_id,omitempty"`
	OwnerEmail     string        `json:"owner_email,omitempty"`
	LicenseType    string        `json:"license_type,omitempty"`
	Features       []string      `json:"features,omitempty"`
	IssuedAt       *time.Time    `json:"issued_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	// DaysLeft is -1 for perpetual licenses.
	DaysLeft       int           `json:"days_left"`
	MaxActivations int           `json:"max_activations,omitempty"`
	Activations    int           `json:"activations,omitempty"`
	Message        string        `json:"message"`
	Reason         string        `json:"reason,omitempty"`
	RenewalInfo    *RenewalInfo  `json:"renewal_info,omitempty"`
	StoreBackend   string        `json:"store_backend"`
	StoreDegraded  bool          `json:"store_degraded"`
	TraceID        string        `json:"trace_id"`
	Timestamp      time.Time     `json:"timestamp"`
}

// RenewalInfo represents license renewal information
type RenewalInfo struct {
	NeedsRenewal    bool   `json:"needs_renewal"`
	IsExpired       bool   `json:"is_expired"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
	RenewalUrgency  string `json:"renewal_urgency"` // low|medium|high|critical
	RenewalMessage  string `json:"renewal_message"`
}

// LicenseDeactivationResponse reports a deactivation
type LicenseDeactivationResponse struct {
	Success   bool   `json:"success"`
	LicenseID string `json:"license_id,omitempty"`
	WasStored bool   `json:"was_stored"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id"`
}

// LicenseValidationRequest asks for a stateless check of a key or token
type LicenseValidationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=10,max=4096"`
}

// LicenseValidationResponse represents the result of license validation
type LicenseValidationResponse struct {
	Valid       bool       `json:"valid"`
	Outcome     string     `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	LicenseID   string     `json:"license_id,omitempty"`
	LicenseType string     `json:"license_type,omitempty"`
	Features    []string   `json:"features,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TraceID     string     `json:"trace_id"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// TrialRequest asks for a locally generated trial
type TrialRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Days  int    `json:"days" validate:"required,min=1"`
}

// TrialResponse reports a generated trial
type TrialResponse struct {
	Success   bool      `json:"success"`
	LicenseID string    `json:"license_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
	TraceID   string    `json:"trace_id"`
}

// RevocationRequest adds an entry to the revocation registry. ReinstateAt
// is only valid for temporary revocations.
type RevocationRequest struct {
	LicenseID   string     `json:"license_id" validate:"required,min=10,max=64"`
	Reason      string     `json:"reason" validate:"max=256"`
	Permanent   bool       `json:"permanent"`
	ReinstateAt *time.Time `json:"reinstate_at,omitempty"`
}

// RevocationResponse confirms a revocation
type RevocationResponse struct {
	LicenseID string `json:"license_id"`
	Permanent bool   `json:"permanent"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id"`
}

// License error codes
const (
	ErrCodeExpiredLicense   = "LICENSE_EXPIRED"
	ErrCodeRevokedLicense   = "LICENSE_REVOKED"
	ErrCodeTamperedLicense  = "LICENSE_TAMPERED"
	ErrCodeHardwareMismatch = "HARDWARE_MISMATCH"
	ErrCodeInvalidFormat    = "INVALID_FORMAT"
	ErrCodeActivationFailed = "ACTIVATION_FAILED"
)
