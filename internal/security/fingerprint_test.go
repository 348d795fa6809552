package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestFingerprintCompute tests the digest shape and stability
func TestFingerprintCompute(t *testing.T) {
	fm := NewFingerprintManager()

	first := fm.Compute()
	second := fm.Compute()

	assert.True(t, first.Valid(), "digest must be 64 lowercase hex chars: %q", first)
	assert.Len(t, string(first), DigestLength)
	assert.Equal(t, first, second, "same machine must yield the same digest")
	assert.Equal(t, string(first[:12]), first.Short())
}

// TestFingerprintSourceFailures tests placeholder substitution
func TestFingerprintSourceFailures(t *testing.T) {
	ok := Source{Name: "a", Collect: func() (string, error) { return "value-a", nil }}
	failing := Source{Name: "b", Collect: func() (string, error) { return "", errors.New("denied") }}
	empty := Source{Name: "b", Collect: func() (string, error) { return "   ", nil }}
	panicking := Source{Name: "b", Collect: func() (string, error) { panic("driver crashed") }}
	placeholder := Source{Name: "b", Collect: func() (string, error) { return "unknown-b", nil }}

	expected := NewFingerprintManager(WithSources(ok, placeholder)).Compute()

	for name, src := range map[string]Source{"error": failing, "empty": empty, "panic": panicking} {
		t.Run(name, func(t *testing.T) {
			var digest FingerprintDigest
			require.NotPanics(t, func() {
				digest = NewFingerprintManager(WithSources(ok, src)).Compute()
			})
			assert.Equal(t, expected, digest)
		})
	}
}

// TestFingerprintSensitivity tests that any attribute change moves the digest
func TestFingerprintSensitivity(t *testing.T) {
	mk := func(host string) FingerprintDigest {
		return NewFingerprintManager(WithSources(
			Source{Name: "platform", Collect: func() (string, error) { return "linux/amd64", nil }},
			Source{Name: "host", Collect: func() (string, error) { return host, nil }},
		)).Compute()
	}
	assert.NotEqual(t, mk("alpha"), mk("beta"))
	assert.Equal(t, mk("alpha"), mk("alpha"))
}

// TestFingerprintComponents tests the diagnostic view
func TestFingerprintComponents(t *testing.T) {
	components := NewFingerprintManager().Components()
	for _, name := range []string{"platform", "locale", "timezone", "host", "cpu", "render"} {
		assert.NotEmpty(t, components[name], name)
	}
}

// TestFingerprintConcurrent tests concurrent computation
func TestFingerprintConcurrent(t *testing.T) {
	fm := NewFingerprintManager()
	want := fm.Compute()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if got := fm.Compute(); got != want {
				return errors.New("digest changed under concurrency")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

// TestAttributeSources tests individual sources
func TestAttributeSources(t *testing.T) {
	fm := NewFingerprintManager()

	t.Run("locale normalisation", func(t *testing.T) {
		t.Setenv("LC_ALL", "en_US.UTF-8@euro")
		locale, err := fm.GetLocale()
		require.NoError(t, err)
		assert.Equal(t, "en-us", locale)
	})

	t.Run("missing locale", func(t *testing.T) {
		t.Setenv("LC_ALL", "")
		t.Setenv("LC_MESSAGES", "")
		t.Setenv("LANG", "")
		_, err := fm.GetLocale()
		assert.Error(t, err)
	})

	t.Run("platform", func(t *testing.T) {
		platform, err := fm.GetPlatform()
		require.NoError(t, err)
		assert.Contains(t, platform, "/")
	})

	t.Run("timezone is stable", func(t *testing.T) {
		a, err := fm.GetTimezone()
		require.NoError(t, err)
		b, _ := fm.GetTimezone()
		assert.Equal(t, a, b)
	})

	t.Run("timezone names the zone", func(t *testing.T) {
		t.Setenv("TZ", ":Asia/Baghdad")
		tz, err := fm.GetTimezone()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(tz, "Asia/Baghdad"), tz)
		assert.NotContains(t, tz, "Local")
	})

	t.Run("timezone name from system files", func(t *testing.T) {
		t.Setenv("TZ", "")
		dir := t.TempDir()
		oldFile, oldLink := timezoneFile, localtimeLink
		t.Cleanup(func() { timezoneFile, localtimeLink = oldFile, oldLink })

		timezoneFile = filepath.Join(dir, "timezone")
		localtimeLink = filepath.Join(dir, "localtime")
		require.NoError(t, os.Symlink("/usr/share/zoneinfo/Europe/Berlin", localtimeLink))
		assert.Equal(t, "Europe/Berlin", zoneName())

		require.NoError(t, os.WriteFile(timezoneFile, []byte("Asia/Baghdad\n"), 0o600))
		assert.Equal(t, "Asia/Baghdad", zoneName())
	})

	t.Run("render entropy is deterministic", func(t *testing.T) {
		a, err := fm.GetRenderEntropy()
		require.NoError(t, err)
		b, _ := fm.GetRenderEntropy()
		assert.Equal(t, a, b)
		assert.Len(t, a, 16)
	})

	t.Run("cpu id", func(t *testing.T) {
		id, err := fm.GetCPUID()
		require.NoError(t, err)
		assert.Len(t, id, 16)
	})
}

// TestDigestValid tests the digest shape check
func TestDigestValid(t *testing.T) {
	assert.False(t, FingerprintDigest("abc").Valid())
	assert.False(t, FingerprintDigest(strings.Repeat("G", 64)).Valid())
	assert.False(t, FingerprintDigest(strings.Repeat("A", 64)).Valid(), "upper case is not canonical")
	assert.True(t, FingerprintDigest(strings.Repeat("a1", 32)).Valid())
}
