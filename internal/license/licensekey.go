package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"isxlicense/internal/config"
	licenseErrors "isxlicense/internal/errors"
)

// crockfordAlphabet is Crockford's base32 alphabet (no I, L, O or U)
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	keyRandomBytes   = 8
	keyChecksumBytes = 2
	keyBodyChars     = 16 // (8+2) bytes * 8 / 5
	keyGroupSize     = 4
)

var keyEncoding = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// LicenseKey is the human friendly identifier ISX-XXXX-XXXX-XXXX-XXXX
type LicenseKey string

// GenerateLicenseKey returns a new random license key
func GenerateLicenseKey() (LicenseKey, error) {
	var random [keyRandomBytes]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	return NewLicenseKey(random), nil
}

// NewLicenseKey builds the key for the given random bytes
func NewLicenseKey(random [keyRandomBytes]byte) LicenseKey {
	raw := make([]byte, 0, keyRandomBytes+keyChecksumBytes)
	raw = append(raw, random[:]...)
	raw = append(raw, keyChecksum(random[:])...)
	return formatKey(keyEncoding.EncodeToString(raw))
}

// ParseLicenseKey accepts any letter case with or without dashes and spaces
// and returns the canonical key. The prefix, alphabet, length and checksum
// are all verified.
func ParseLicenseKey(s string) (LicenseKey, error) {
	compact := strings.ToUpper(s)
	compact = strings.NewReplacer("-", "", " ", "", "\t", "").Replace(compact)

	if !strings.HasPrefix(compact, config.LicenseKeyPrefix) {
		return "", fmt.Errorf("%w: missing %s prefix", licenseErrors.ErrInvalidLicenseKey, config.LicenseKeyPrefix)
	}
	body := strings.TrimPrefix(compact, config.LicenseKeyPrefix)
	if len(body) != keyBodyChars {
		return "", fmt.Errorf("%w: expected %d characters after the prefix, got %d",
			licenseErrors.ErrInvalidLicenseKey, keyBodyChars, len(body))
	}
	for _, r := range body {
		if !strings.ContainsRune(crockfordAlphabet, r) {
			return "", fmt.Errorf("%w: invalid character %q", licenseErrors.ErrInvalidLicenseKey, r)
		}
	}

	raw, err := keyEncoding.DecodeString(body)
	if err != nil || len(raw) != keyRandomBytes+keyChecksumBytes {
		return "", fmt.Errorf("%w: undecodable key", licenseErrors.ErrInvalidLicenseKey)
	}
	want := keyChecksum(raw[:keyRandomBytes])
	if raw[keyRandomBytes] != want[0] || raw[keyRandomBytes+1] != want[1] {
		return "", fmt.Errorf("%w: checksum mismatch", licenseErrors.ErrInvalidLicenseKey)
	}

	return formatKey(body), nil
}

// IsTokenBlob reports whether s looks like an encoded token rather than a key
func IsTokenBlob(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), TokenMagic+".")
}

func (k LicenseKey) String() string { return string(k) }

// Masked hides everything but the prefix and the last group
func (k LicenseKey) Masked() string {
	return MaskLicenseID(string(k))
}

// MaskLicenseID masks any license identifier for logs
func MaskLicenseID(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:4] + "****" + id[len(id)-4:]
}

func keyChecksum(random []byte) []byte {
	sum := sha256.Sum256(append([]byte(config.LicenseKeyPrefix), random...))
	return sum[:keyChecksumBytes]
}

func formatKey(body string) LicenseKey {
	var b strings.Builder
	b.WriteString(config.LicenseKeyPrefix)
	for i := 0; i < len(body); i += keyGroupSize {
		b.WriteByte('-')
		b.WriteString(body[i : i+keyGroupSize])
	}
	return LicenseKey(b.String())
}
