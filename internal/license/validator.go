package license

import (
	"fmt"
	"time"

	"isxlicense/internal/revocation"
	"isxlicense/internal/security"
)

// RevocationChecker answers revocation questions from memory.
// *revocation.Snapshot implements it.
type RevocationChecker interface {
	IsRevoked(licenseID string, now time.Time) (*revocation.Entry, bool)
}

// Validator decides the state of a token. It never writes anything and
// never blocks.
type Validator struct {
	keys VerificationKeys
}

// NewValidator creates a validator verifying with keys
func NewValidator(keys VerificationKeys) *Validator {
	return &Validator{keys: keys}
}

// Decode parses and verifies token
func (v *Validator) Decode(token string) (*Token, error) {
	return Decode(token, v.keys)
}

// Validate decodes token and applies ValidateToken. Decode failures become
// Tampered, Malformed or UnsupportedVersion outcomes.
func (v *Validator) Validate(token string, fp security.FingerprintDigest, activations []ActivationRecord, revoked RevocationChecker, now time.Time) Outcome {
	tok, err := v.Decode(token)
	if err != nil {
		return outcomeForDecodeError(err)
	}
	return v.ValidateToken(tok, fp, activations, revoked, now)
}

// ValidateToken applies the decision order to an already decoded token:
// revocation, then expiry, then hardware binding.
func (v *Validator) ValidateToken(tok *Token, fp security.FingerprintDigest, activations []ActivationRecord, revoked RevocationChecker, now time.Time) Outcome {
	out := Outcome{Token: tok}

	if revoked != nil {
		if entry, ok := revoked.IsRevoked(tok.LicenseID, now); ok {
			out.Kind = OutcomeRevoked
			out.Revocation = entry
			out.Reason = revocationReason(entry)
			return out
		}
	}

	if tok.ExpiredAt(now) {
		out.Kind = OutcomeExpired
		out.Reason = fmt.Sprintf("expired at %s", tok.ExpiresAt.Format(time.RFC3339))
		return out
	}

	bound := 0
	for i := range activations {
		a := activations[i]
		if a.LicenseID != tok.LicenseID {
			continue
		}
		if a.Fingerprint == fp {
			out.Kind = OutcomeActive
			out.Activation = &a
			return out
		}
		bound++
	}

	if bound < tok.MaxActivations {
		out.Kind = OutcomeActive
		out.NewBinding = true
		out.Activation = &ActivationRecord{
			LicenseID:   tok.LicenseID,
			Fingerprint: fp,
			ActivatedAt: now.UTC().Truncate(time.Second),
		}
		return out
	}

	out.Kind = OutcomeHardwareMismatch
	out.Reason = fmt.Sprintf("license is bound to %d other machine(s)", bound)
	return out
}

func revocationReason(e *revocation.Entry) string {
	if e == nil {
		return "revoked"
	}
	if e.IsPermanent {
		return "permanently revoked: " + e.Reason
	}
	if e.ReinstateAt != nil {
		return fmt.Sprintf("revoked until %s: %s", e.ReinstateAt.Format(time.RFC3339), e.Reason)
	}
	return "revoked: " + e.Reason
}
