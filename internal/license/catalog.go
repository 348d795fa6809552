package license

import (
	"context"
	"time"
)

// CatalogEntry is one issued license known to this installation.
// Token holds the signed token blob delivered with the license key.
type CatalogEntry struct {
	LicenseID           string     `json:"license_id"`
	LicenseType         Tier       `json:"license_type"`
	Token               string     `json:"encrypted_payload"`
	HardwareFingerprint string     `json:"hardware_fingerprint,omitempty"`
	MaxActivations      int        `json:"max_activations"`
	CurrentActivations  int        `json:"current_activations"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	IsActive            bool       `json:"is_active"`
	CreatedAt           time.Time  `json:"created_at"`
}

// NewCatalogEntry describes a verified token
func NewCatalogEntry(tok *Token, now time.Time) CatalogEntry {
	return CatalogEntry{
		LicenseID:      tok.LicenseID,
		LicenseType:    tok.Tier,
		Token:          tok.Raw,
		MaxActivations: tok.MaxActivations,
		ExpiresAt:      tok.ExpiresAt,
		CreatedAt:      now.UTC().Truncate(time.Second),
	}
}

// ActivationUpdate is applied to a catalog entry after activation changes
type ActivationUpdate struct {
	Fingerprint string
	Activations int
	Active      bool
}

// KeyCatalog maps license keys to their signed tokens.
// Lookup returns errors.ErrUnknownLicenseKey for keys it does not know.
type KeyCatalog interface {
	Put(ctx context.Context, entry CatalogEntry) error
	Lookup(ctx context.Context, licenseID string) (*CatalogEntry, error)
	RecordActivation(ctx context.Context, licenseID string, update ActivationUpdate) error
}
