package license

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"isxlicense/internal/security"
)

// Tier is the commercial level of a license
type Tier string

const (
	TierTrial        Tier = "TRIAL"
	TierStandard     Tier = "STANDARD"
	TierProfessional Tier = "PROFESSIONAL"
	TierEnterprise   Tier = "ENTERPRISE"
)

// AllTiers lists every tier from lowest to highest
var AllTiers = []Tier{TierTrial, TierStandard, TierProfessional, TierEnterprise}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	switch t {
	case TierTrial, TierStandard, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// ParseTier accepts any letter case
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown license tier %q", s)
	}
	return t, nil
}

// Feature identifies a licensed capability. The set is closed: tokens naming
// anything else are rejected.
type Feature string

const (
	FeatureDailyReports    Feature = "daily_reports"
	FeatureTickerCharts    Feature = "ticker_charts"
	FeatureDataExport      Feature = "data_export"
	FeatureLiquidity       Feature = "liquidity_analysis"
	FeatureAPIAccess       Feature = "api_access"
	FeaturePrioritySupport Feature = "priority_support"
)

// AllFeatures lists every known feature
var AllFeatures = []Feature{
	FeatureDailyReports,
	FeatureTickerCharts,
	FeatureDataExport,
	FeatureLiquidity,
	FeatureAPIAccess,
	FeaturePrioritySupport,
}

// Valid reports whether f is a known feature
func (f Feature) Valid() bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFeatures parses a list of feature names, rejecting unknown ones
func ParseFeatures(names []string) ([]Feature, error) {
	out := make([]Feature, 0, len(names))
	for _, n := range names {
		f := Feature(strings.ToLower(strings.TrimSpace(n)))
		if f == "" {
			continue
		}
		if !f.Valid() {
			return nil, fmt.Errorf("unknown feature %q", n)
		}
		out = append(out, f)
	}
	return normalizeFeatures(out), nil
}

// TierDefaults returns the features granted by a tier when none are given
func TierDefaults(t Tier) []Feature {
	switch t {
	case TierTrial:
		return []Feature{FeatureDailyReports, FeatureTickerCharts}
	case TierStandard:
		return []Feature{FeatureDailyReports, FeatureTickerCharts, FeatureDataExport}
	case TierProfessional:
		return normalizeFeatures([]Feature{FeatureDailyReports, FeatureTickerCharts, FeatureDataExport, FeatureLiquidity, FeatureAPIAccess})
	case TierEnterprise:
		return normalizeFeatures(append([]Feature(nil), AllFeatures...))
	}
	return nil
}

func normalizeFeatures(in []Feature) []Feature {
	seen := make(map[Feature]bool, len(in))
	out := make([]Feature, 0, len(in))
	for _, f := range in {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Payload is the signed content of a license token
type Payload struct {
	LicenseID      string     `json:"license_id"`
	OwnerEmail     string     `json:"owner_email"`
	Tier           Tier       `json:"tier"`
	Features       []Feature  `json:"features"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxActivations int        `json:"max_activations"`
}

// Normalize returns the canonical form that is actually signed: UTC whole
// seconds, lower-case e-mail, sorted unique features and at least one
// activation.
func (p Payload) Normalize() Payload {
	p.LicenseID = strings.TrimSpace(p.LicenseID)
	if key, err := ParseLicenseKey(p.LicenseID); err == nil {
		p.LicenseID = key.String()
	}
	p.OwnerEmail = strings.ToLower(strings.TrimSpace(p.OwnerEmail))
	p.Features = normalizeFeatures(p.Features)
	p.IssuedAt = p.IssuedAt.UTC().Truncate(time.Second)
	if p.ExpiresAt != nil {
		e := p.ExpiresAt.UTC().Truncate(time.Second)
		p.ExpiresAt = &e
	}
	if p.MaxActivations == 0 {
		p.MaxActivations = 1
	}
	return p
}

// HasFeature reports whether the license grants f
func (p Payload) HasFeature(f Feature) bool {
	for _, have := range p.Features {
		if have == f {
			return true
		}
	}
	return false
}

// Perpetual reports whether the license never expires
func (p Payload) Perpetual() bool {
	return p.ExpiresAt == nil
}

// ExpiredAt reports whether the license is expired at now.
// The expiry instant itself is still valid.
func (p Payload) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Token is a decoded and verified license token
type Token struct {
	Payload
	Version   int       `json:"version"`
	Algorithm Algorithm `json:"algorithm"`
	Raw       string    `json:"-"`
}

// ActivationRecord binds a license to one machine
type ActivationRecord struct {
	LicenseID   string                     `json:"license_id"`
	Fingerprint security.FingerprintDigest `json:"fingerprint_digest"`
	ActivatedAt time.Time                  `json:"activated_at"`
}

// StoredLicense is what the secure store keeps for the active license
type StoredLicense struct {
	Token       string             `json:"token"`
	Activations []ActivationRecord `json:"activations"`
	StoredAt    time.Time          `json:"stored_at"`
}

// ActivationsFor returns the records that belong to licenseID
func (s *StoredLicense) ActivationsFor(licenseID string) []ActivationRecord {
	if s == nil {
		return nil
	}
	var out []ActivationRecord
	for _, a := range s.Activations {
		if a.LicenseID == licenseID {
			out = append(out, a)
		}
	}
	return out
}
