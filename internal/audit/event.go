package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit event
type EventType string

const (
	EventActivate       EventType = "ACTIVATE"
	EventDeactivate     EventType = "DEACTIVATE"
	EventValidate       EventType = "VALIDATE"
	EventRevoke         EventType = "REVOKE"
	EventTamperDetected EventType = "TAMPER_DETECTED"
)

// Severity of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// FingerprintPrefixLength is how much of a fingerprint digest is kept
const FingerprintPrefixLength = 12

// maxContextValue bounds a single context value
const maxContextValue = 256

// Event is one audit record
type Event struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"event_type"`
	LicenseID      string            `json:"license_id,omitempty"`
	Outcome        string            `json:"outcome,omitempty"`
	Severity       Severity          `json:"severity"`
	Timestamp      time.Time         `json:"timestamp"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time_ns"`
	Context        map[string]string `json:"context,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Log appends events
type Log interface {
	Record(ctx context.Context, event Event) error
}

// Reader queries recorded events
type Reader interface {
	Events(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	LicenseID string
	Types     []EventType
	Since     time.Time
	Until     time.Time
	// Limit keeps only the newest Limit events when positive.
	Limit int
}

// Match reports whether e passes the filter
func (f Filter) Match(e Event) bool {
	if f.LicenseID != "" && e.LicenseID != f.LicenseID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Apply filters events and enforces Limit
func (f Filter) Apply(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Normalize fills defaults and sanitises the event before it is written
func Normalize(e Event, now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Severity == "" {
		e.Severity = DefaultSeverity(e.Type)
	}
	if len(e.Fingerprint) > FingerprintPrefixLength {
		e.Fingerprint = e.Fingerprint[:FingerprintPrefixLength]
	}
	e.Context = SanitizeContext(e.Context)
	e.Error = sanitizeValue(e.Error)
	return e
}

// DefaultSeverity maps event types to a severity
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventTamperDetected:
		return SeverityCritical
	case EventRevoke:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// sensitiveKeyParts mark context keys that may carry key material
var sensitiveKeyParts = []string{"token", "key", "secret", "password", "passphrase", "signature", "integrity_tag"}

// SanitizeContext drops keys naming secrets and redacts token shaped values
func SanitizeContext(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if isSensitiveKey(k) {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// sanitizeValue redacts anything that looks like a token blob
func sanitizeValue(v string) string {
	if strings.Contains(strings.ToLower(v), "isxlic.") {
		return "[REDACTED]"
	}
	if len(v) > maxContextValue {
		return v[:maxContextValue] + "..."
	}
	return v
}
