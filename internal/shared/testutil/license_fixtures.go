package testutil

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// ReferenceTime is the fixed "now" most license tests start from
var ReferenceTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// LicenseTestFixtures provides key material and data for license tests.
// It deliberately knows nothing about the license types so every package
// can import it.
type LicenseTestFixtures struct {
	TestDataDir string
}

// NewLicenseTestFixtures creates a new fixtures manager
func NewLicenseTestFixtures(testDataDir string) *LicenseTestFixtures {
	return &LicenseTestFixtures{
		TestDataDir: testDataDir,
	}
}

// HMACSecret returns a fixed 32 byte verification secret
func (f *LicenseTestFixtures) HMACSecret() []byte {
	return []byte("isx-test-hmac-secret-0123456789a")
}

// IssuerSecret returns a fixed secret used for locally generated trials
func (f *LicenseTestFixtures) IssuerSecret() []byte {
	return []byte("isx-test-issuer-secret-987654321")
}

// StorePassphrase returns the passphrase for encrypted file stores
func (f *LicenseTestFixtures) StorePassphrase() []byte {
	return []byte("isx-test-store-passphrase")
}

// Ed25519KeyPair returns a deterministic key pair derived from a fixed seed
func (f *LicenseTestFixtures) Ed25519KeyPair() (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("isx-test-ed25519-seed"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

// GetTestEmails returns named owner addresses
func (f *LicenseTestFixtures) GetTestEmails() map[string]string {
	return map[string]string{
		"valid":     "analyst@iraqiinvestor.gov.iq",
		"uppercase": "Analyst@IraqiInvestor.gov.iq",
		"other":     "someone.else@example.com",
		"invalid":   "not-an-email",
		"empty":     "",
	}
}

// Fingerprint returns a deterministic 64 char hex digest for name
func (f *LicenseTestFixtures) Fingerprint(name string) string {
	sum := sha256.Sum256([]byte("fixture-machine:" + name))
	return hex.EncodeToString(sum[:])
}

// WriteFile writes data under TestDataDir and returns the full path
func (f *LicenseTestFixtures) WriteFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.TestDataDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

// CorruptFile damages an existing file in one of several ways:
// truncate, flip, append_garbage or empty.
func (f *LicenseTestFixtures) CorruptFile(path, corruptionType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch corruptionType {
	case "truncate":
		data = data[:len(data)/2]
	case "flip":
		if len(data) == 0 {
			return fmt.Errorf("cannot flip a byte of an empty file")
		}
		data[len(data)/2] ^= 0x01
	case "append_garbage":
		data = append(data, []byte("{\"torn\": ")...)
	case "empty":
		data = nil
	default:
		return fmt.Errorf("unknown corruption type: %s", corruptionType)
	}

	return os.WriteFile(path, data, 0o600)
}

// FakeClock is a manually advanced clock safe for concurrent use
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a clock at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
