package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/license"
	"isxlicense/internal/shared/testutil"
)

func newEntry(t *testing.T) license.CatalogEntry {
	t.Helper()
	key, err := license.GenerateLicenseKey()
	require.NoError(t, err)
	expires := testutil.ReferenceTime.Add(30 * 24 * time.Hour)
	return license.CatalogEntry{
		LicenseID:      key.String(),
		LicenseType:    license.TierProfessional,
		Token:          "isxlic.v1.hs256.payload.tag.00000000",
		MaxActivations: 1,
		ExpiresAt:      &expires,
		CreatedAt:      testutil.ReferenceTime,
	}
}

func newTestCatalog(t *testing.T) *FileCatalog {
	t.Helper()
	c, err := NewFileCatalog(filepath.Join(t.TempDir(), "catalog", "catalog.json"), time.Second)
	require.NoError(t, err)
	return c
}

// TestFileCatalogPutLookup tests insertion, lookup and persistence
func TestFileCatalogPutLookup(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	entry := newEntry(t)

	_, err := c.Lookup(ctx, entry.LicenseID)
	assert.ErrorIs(t, err, licenseErrors.ErrUnknownLicenseKey)

	require.NoError(t, c.Put(ctx, entry))
	got, err := c.Lookup(ctx, entry.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, entry.Token, got.Token)
	assert.Equal(t, license.TierProfessional, got.LicenseType)

	info, err := os.Stat(c.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewFileCatalog(c.Path(), time.Second)
	require.NoError(t, err)
	got, err = reopened.Lookup(ctx, entry.LicenseID)
	require.NoError(t, err)
	assert.True(t, entry.ExpiresAt.Equal(*got.ExpiresAt))

	assert.ErrorIs(t, c.Put(ctx, license.CatalogEntry{}), licenseErrors.ErrLicenseIDRequired)
}

// TestFileCatalogRecordActivation tests activation bookkeeping
func TestFileCatalogRecordActivation(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	entry := newEntry(t)
	require.NoError(t, c.Put(ctx, entry))

	fp := testutil.NewLicenseTestFixtures("").Fingerprint("a")
	require.NoError(t, c.RecordActivation(ctx, entry.LicenseID, license.ActivationUpdate{Fingerprint: fp, Activations: 1, Active: true}))

	got, err := c.Lookup(ctx, entry.LicenseID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, 1, got.CurrentActivations)
	assert.Equal(t, fp, got.HardwareFingerprint)

	// re-importing keeps the counters
	require.NoError(t, c.Put(ctx, entry))
	got, err = c.Lookup(ctx, entry.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentActivations)

	require.NoError(t, c.RecordActivation(ctx, entry.LicenseID, license.ActivationUpdate{Active: false}))
	got, err = c.Lookup(ctx, entry.LicenseID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, fp, got.HardwareFingerprint)

	err = c.RecordActivation(ctx, "ISX-NOPE", license.ActivationUpdate{Active: true})
	assert.ErrorIs(t, err, licenseErrors.ErrUnknownLicenseKey)
}

// TestFileCatalogList tests ordering of listed entries
func TestFileCatalogList(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	first := newEntry(t)
	second := newEntry(t)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	require.NoError(t, c.Put(ctx, second))
	require.NoError(t, c.Put(ctx, first))

	list, err = c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.LicenseID, list[0].LicenseID)
	assert.Equal(t, second.LicenseID, list[1].LicenseID)
}

// TestFileCatalogCorrupt tests that a damaged document is reported
func TestFileCatalogCorrupt(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewLicenseTestFixtures(t.TempDir())

	tests := []struct {
		name string
		data string
	}{
		{"not json", "{oops"},
		{"future version", `{"version": 9, "entries": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := fixtures.WriteFile(t, tt.name+".json", []byte(tt.data))
			c, err := NewFileCatalog(path, time.Second)
			require.NoError(t, err)

			_, err = c.Lookup(ctx, "ISX-ANY")
			assert.Error(t, err)
			assert.NotErrorIs(t, err, licenseErrors.ErrUnknownLicenseKey)
			assert.Error(t, c.Put(ctx, newEntry(t)))
		})
	}
}

// TestFileCatalogLockTimeout tests that a held lock fails instead of hanging
func TestFileCatalogLockTimeout(t *testing.T) {
	c, err := NewFileCatalog(filepath.Join(t.TempDir(), "catalog.json"), 100*time.Millisecond)
	require.NoError(t, err)

	other := flock.New(c.Path() + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	err = c.Put(context.Background(), newEntry(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestFileCatalogConcurrentPuts tests that concurrent writers do not lose entries
func TestFileCatalogConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		entry := newEntry(t)
		g.Go(func() error { return c.Put(ctx, entry) })
	}
	require.NoError(t, g.Wait())

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 8)
}
