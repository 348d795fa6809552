package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/shared/testutil"
	"isxlicense/internal/store"
)

// loadStoreOnly hides Update so the ledger takes its load/store path
type loadStoreOnly struct {
	store.Adapter
}

func trialEntry(fp string) TrialEntry {
	return TrialEntry{
		Fingerprint: fp,
		EmailHash:   HashEmail(fixtures.GetTestEmails()["valid"]),
		LicenseID:   "ISX-TEST",
		IssuedAt:    testutil.ReferenceTime,
		ExpiresAt:   testutil.ReferenceTime.Add(7 * 24 * time.Hour),
	}
}

// TestTrialLedgerReserve tests one trial per fingerprint for both store paths
func TestTrialLedgerReserve(t *testing.T) {
	tests := []struct {
		name  string
		store store.Adapter
	}{
		{"updater", store.NewMemoryStore()},
		{"load and store", loadStoreOnly{store.NewMemoryStore()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := NewTrialLedger(tt.store)
			fp := fixtures.Fingerprint("trial")

			entry, err := ledger.Lookup(ctx, fp)
			require.NoError(t, err)
			assert.Nil(t, entry)

			require.NoError(t, ledger.Reserve(ctx, trialEntry(fp)))
			err = ledger.Reserve(ctx, trialEntry(fp))
			assert.ErrorIs(t, err, licenseErrors.ErrTrialAlreadyUsed)

			require.NoError(t, ledger.Reserve(ctx, trialEntry(fixtures.Fingerprint("other"))))

			entries, err := ledger.Entries(ctx)
			require.NoError(t, err)
			assert.Len(t, entries, 2)

			entry, err = ledger.Lookup(ctx, fp)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, testutil.ReferenceTime, entry.IssuedAt.UTC())
		})
	}
}

// TestTrialLedgerConcurrentReserve tests that racing reservations grant one trial
func TestTrialLedgerConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	ledger := NewTrialLedger(store.NewMemoryStore())
	fp := fixtures.Fingerprint("race")

	results := make(chan error, 10)
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			results <- ledger.Reserve(ctx, trialEntry(fp))
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	granted := 0
	for err := range results {
		if err == nil {
			granted++
			continue
		}
		assert.ErrorIs(t, err, licenseErrors.ErrTrialAlreadyUsed)
	}
	assert.Equal(t, 1, granted)
}

// TestTrialLedgerCorrupt tests that unreadable ledgers are reported
func TestTrialLedgerCorrupt(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Store(ctx, []byte("not json")))

	ledger := NewTrialLedger(s)
	_, err := ledger.Entries(ctx)
	assert.Error(t, err)
	assert.Error(t, ledger.Reserve(ctx, trialEntry("x")))
}

// TestHashEmail tests e-mail hashing normalisation
func TestHashEmail(t *testing.T) {
	emails := fixtures.GetTestEmails()
	assert.Equal(t, HashEmail(emails["valid"]), HashEmail(emails["uppercase"]))
	assert.NotEqual(t, HashEmail(emails["valid"]), HashEmail(emails["other"]))
	assert.Len(t, HashEmail(emails["valid"]), 64)
}
