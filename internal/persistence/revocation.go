package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"isxlicense/internal/revocation"
)

// RevocationRegistry is the insert-only license_revocation table
type RevocationRegistry struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRevocationRegistry wraps db; now may be nil for the wall clock
func NewRevocationRegistry(db *gorm.DB, now func() time.Time) *RevocationRegistry {
	if now == nil {
		now = time.Now
	}
	return &RevocationRegistry{db: db, now: now}
}

// Revoke inserts a new entry
func (r *RevocationRegistry) Revoke(ctx context.Context, licenseID, reason string, permanent bool, opts ...revocation.RevokeOption) error {
	entry, err := revocation.NewEntry(licenseID, reason, permanent, r.now(), opts...)
	if err != nil {
		return err
	}
	rec := toRevocationModel(entry)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}
	return nil
}

// IsRevoked reports the authoritative entry for licenseID at now
func (r *RevocationRegistry) IsRevoked(ctx context.Context, licenseID string, now time.Time) (*revocation.Entry, error) {
	entries, err := r.Entries(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	entry, revoked := revocation.Authoritative(entries, now)
	if !revoked {
		return nil, nil
	}
	return entry, nil
}

// Snapshot loads every entry in insertion order
func (r *RevocationRegistry) Snapshot(ctx context.Context) (*revocation.Snapshot, error) {
	entries, err := r.find(ctx, r.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return revocation.NewSnapshot(entries), nil
}

// Entries returns the entries for licenseID in insertion order
func (r *RevocationRegistry) Entries(ctx context.Context, licenseID string) ([]revocation.Entry, error) {
	return r.find(ctx, r.db.WithContext(ctx).Where("license_id = ?", licenseID))
}

func (r *RevocationRegistry) find(_ context.Context, query *gorm.DB) ([]revocation.Entry, error) {
	var rows []revocationModel
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read revocations: %w", err)
	}
	out := make([]revocation.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRevocationEntry(row))
	}
	return out, nil
}
