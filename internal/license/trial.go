package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/store"
)

// TrialEntry records a trial issued on this machine
type TrialEntry struct {
	Fingerprint string    `json:"fingerprint"`
	EmailHash   string    `json:"email_hash"`
	LicenseID   string    `json:"license_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type trialLedgerDoc struct {
	Entries []TrialEntry `json:"entries"`
}

// TrialLedger remembers which machines already received a trial. It lives
// in its own store account so deactivating a license does not erase it.
type TrialLedger struct {
	store store.Adapter
}

// NewTrialLedger creates a ledger on top of s
func NewTrialLedger(s store.Adapter) *TrialLedger {
	return &TrialLedger{store: s}
}

// Reserve records entry unless the fingerprint already has a trial, in
// which case errors.ErrTrialAlreadyUsed is returned and nothing is written.
func (l *TrialLedger) Reserve(ctx context.Context, entry TrialEntry) error {
	update := func(current []byte, found bool) ([]byte, error) {
		doc, err := parseLedger(current, found)
		if err != nil {
			return nil, err
		}
		for _, e := range doc.Entries {
			if e.Fingerprint == entry.Fingerprint {
				return nil, licenseErrors.ErrTrialAlreadyUsed
			}
		}
		doc.Entries = append(doc.Entries, entry)
		return json.Marshal(doc)
	}

	if u, ok := l.store.(store.Updater); ok {
		return u.Update(ctx, update)
	}

	current, found, err := l.store.Load(ctx)
	if err != nil {
		return err
	}
	next, err := update(current, found)
	if err != nil {
		return err
	}
	return l.store.Store(ctx, next)
}

// Lookup returns the trial issued to fingerprint, or nil
func (l *TrialLedger) Lookup(ctx context.Context, fingerprint string) (*TrialEntry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Fingerprint == fingerprint {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// Entries returns every recorded trial
func (l *TrialLedger) Entries(ctx context.Context) ([]TrialEntry, error) {
	data, found, err := l.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := parseLedger(data, found)
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func parseLedger(data []byte, found bool) (*trialLedgerDoc, error) {
	doc := &trialLedgerDoc{}
	if !found || len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("trial ledger unreadable: %w", err)
	}
	return doc, nil
}

// HashEmail returns a stable, non-reversible form of an e-mail address
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
