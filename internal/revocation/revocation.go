package revocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	licenseErrors "isxlicense/internal/errors"
)

// Entry is one revocation fact
type Entry struct {
	LicenseID   string     `json:"license_id"`
	RevokedAt   time.Time  `json:"revoked_at"`
	Reason      string     `json:"reason"`
	IsPermanent bool       `json:"is_permanent"`
	ReinstateAt *time.Time `json:"reinstate_at,omitempty"`
}

// Registry is an append-only store of revocation entries
type Registry interface {
	Revoke(ctx context.Context, licenseID, reason string, permanent bool, opts ...RevokeOption) error
	IsRevoked(ctx context.Context, licenseID string, now time.Time) (*Entry, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	Entries(ctx context.Context, licenseID string) ([]Entry, error)
}

// RevokeOption customises a revocation entry
type RevokeOption func(*revokeOptions)

type revokeOptions struct {
	revokedAt   time.Time
	reinstateAt *time.Time
}

// WithReinstateAt makes a temporary revocation lift automatically at t
func WithReinstateAt(t time.Time) RevokeOption {
	return func(o *revokeOptions) {
		u := t.UTC().Truncate(time.Second)
		o.reinstateAt = &u
	}
}

// WithRevokedAt backdates or postdates the entry; the default is now
func WithRevokedAt(t time.Time) RevokeOption {
	return func(o *revokeOptions) {
		o.revokedAt = t
	}
}

// NewEntry validates the inputs and builds the entry a backend appends
func NewEntry(licenseID, reason string, permanent bool, now time.Time, opts ...RevokeOption) (Entry, error) {
	o := revokeOptions{revokedAt: now}
	for _, opt := range opts {
		opt(&o)
	}

	licenseID = strings.TrimSpace(licenseID)
	if licenseID == "" {
		return Entry{}, licenseErrors.ErrLicenseIDRequired
	}

	entry := Entry{
		LicenseID:   licenseID,
		RevokedAt:   o.revokedAt.UTC().Truncate(time.Second),
		Reason:      strings.TrimSpace(reason),
		IsPermanent: permanent,
		ReinstateAt: o.reinstateAt,
	}

	if permanent && entry.ReinstateAt != nil {
		return Entry{}, fmt.Errorf("a permanent revocation cannot have a reinstate time")
	}
	if entry.ReinstateAt != nil && entry.ReinstateAt.Before(entry.RevokedAt) {
		return Entry{}, fmt.Errorf("reinstate time %s is before revocation time %s",
			entry.ReinstateAt.Format(time.RFC3339), entry.RevokedAt.Format(time.RFC3339))
	}
	return entry, nil
}

// Authoritative returns the entry that keeps the license revoked at now, if
// any. entries must be in insertion order.
func Authoritative(entries []Entry, now time.Time) (*Entry, bool) {
	var latest *Entry
	for i := range entries {
		e := &entries[i]
		if e.IsPermanent {
			return e, true
		}
		if latest == nil || !e.RevokedAt.Before(latest.RevokedAt) {
			latest = e
		}
	}

	if latest == nil {
		return nil, false
	}
	if latest.ReinstateAt != nil && !latest.ReinstateAt.After(now) {
		return nil, false
	}
	return latest, true
}

// Snapshot is an immutable in-memory view of the registry
type Snapshot struct {
	byID  map[string][]Entry
	count int
}

// NewSnapshot groups entries by license, preserving their order
func NewSnapshot(entries []Entry) *Snapshot {
	s := &Snapshot{byID: make(map[string][]Entry)}
	for _, e := range entries {
		s.byID[e.LicenseID] = append(s.byID[e.LicenseID], e)
		s.count++
	}
	return s
}

// IsRevoked applies Authoritative to the license's entries.
// A nil snapshot revokes nothing.
func (s *Snapshot) IsRevoked(licenseID string, now time.Time) (*Entry, bool) {
	if s == nil {
		return nil, false
	}
	return Authoritative(s.byID[licenseID], now)
}

// Entries returns a copy of the entries for licenseID
func (s *Snapshot) Entries(licenseID string) []Entry {
	if s == nil {
		return nil
	}
	return append([]Entry(nil), s.byID[licenseID]...)
}

// Len returns the total number of entries
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}
