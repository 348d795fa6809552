package license

import (
	"errors"

	"isxlicense/internal/revocation"
)

// OutcomeKind is the verdict of a validation
type OutcomeKind string

const (
	OutcomeActive             OutcomeKind = "ACTIVE"
	OutcomeExpired            OutcomeKind = "EXPIRED"
	OutcomeRevoked            OutcomeKind = "REVOKED"
	OutcomeHardwareMismatch   OutcomeKind = "HARDWARE_MISMATCH"
	OutcomeTampered           OutcomeKind = "TAMPERED"
	OutcomeMalformed          OutcomeKind = "MALFORMED"
	OutcomeUnsupportedVersion OutcomeKind = "UNSUPPORTED_VERSION"
)

// DecodeFailure reports whether the kind comes from a token that could not be decoded
func (k OutcomeKind) DecodeFailure() bool {
	switch k {
	case OutcomeTampered, OutcomeMalformed, OutcomeUnsupportedVersion:
		return true
	}
	return false
}

// Outcome is the full result of a validation. Token is set whenever the
// token decoded, even when the verdict is negative.
type Outcome struct {
	Kind       OutcomeKind
	Token      *Token
	Activation *ActivationRecord
	// NewBinding is true when Activation is a new record the caller may persist.
	NewBinding bool
	Revocation *revocation.Entry
	Reason     string
}

// Active reports whether the license may be used
func (o Outcome) Active() bool {
	return o.Kind == OutcomeActive
}

// LicenseID returns the decoded license id, or "" when decoding failed
func (o Outcome) LicenseID() string {
	if o.Token == nil {
		return ""
	}
	return o.Token.LicenseID
}

// outcomeForDecodeError maps a decode failure to its outcome
func outcomeForDecodeError(err error) Outcome {
	kind := OutcomeMalformed
	switch {
	case errors.Is(err, ErrTampered):
		kind = OutcomeTampered
	case errors.Is(err, ErrUnsupportedVersion):
		kind = OutcomeUnsupportedVersion
	}
	return Outcome{Kind: kind, Reason: err.Error()}
}
