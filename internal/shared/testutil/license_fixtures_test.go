package testutil

import (
	"crypto/ed25519"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLicenseFixtures tests the deterministic key material and file helpers
func TestLicenseFixtures(t *testing.T) {
	f := NewLicenseTestFixtures(t.TempDir())

	pub1, priv1 := f.Ed25519KeyPair()
	pub2, _ := f.Ed25519KeyPair()
	assert.Equal(t, pub1, pub2)
	sig := ed25519.Sign(priv1, []byte("payload"))
	assert.True(t, ed25519.Verify(pub1, []byte("payload"), sig))

	assert.Len(t, f.Fingerprint("a"), 64)
	assert.NotEqual(t, f.Fingerprint("a"), f.Fingerprint("b"))
	assert.GreaterOrEqual(t, len(f.HMACSecret()), 16)

	tests := []struct {
		corruption string
		check      func(t *testing.T, original, corrupted []byte)
	}{
		{"truncate", func(t *testing.T, o, c []byte) { assert.Len(t, c, len(o)/2) }},
		{"flip", func(t *testing.T, o, c []byte) {
			require.Len(t, c, len(o))
			assert.NotEqual(t, o, c)
		}},
		{"append_garbage", func(t *testing.T, o, c []byte) { assert.Greater(t, len(c), len(o)) }},
		{"empty", func(t *testing.T, o, c []byte) { assert.Empty(t, c) }},
	}

	for _, tt := range tests {
		t.Run(tt.corruption, func(t *testing.T) {
			original := []byte(`{"license_id":"ISX-0000-0000-0000-0000"}`)
			path := f.WriteFile(t, tt.corruption+".json", original)
			require.NoError(t, f.CorruptFile(path, tt.corruption))

			corrupted, err := os.ReadFile(path)
			require.NoError(t, err)
			tt.check(t, original, corrupted)
		})
	}

	path := f.WriteFile(t, "x.json", []byte("x"))
	assert.Error(t, f.CorruptFile(path, "shred"))
}

// TestFakeClock tests manual clock movement
func TestFakeClock(t *testing.T) {
	c := NewFakeClock(ReferenceTime)
	assert.Equal(t, ReferenceTime, c.Now())

	c.Advance(24 * time.Hour)
	assert.Equal(t, ReferenceTime.Add(24*time.Hour), c.Now())

	c.Set(ReferenceTime)
	assert.Equal(t, ReferenceTime, c.Now())
}
