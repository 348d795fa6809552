package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/license"
)

// Catalog is the license_keys table
type Catalog struct {
	db *gorm.DB
}

// NewCatalog wraps db
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// Put inserts an entry or refreshes the token and terms of an existing one.
// Activation counters are left alone on conflict.
func (c *Catalog) Put(ctx context.Context, entry license.CatalogEntry) error {
	if entry.LicenseID == "" {
		return licenseErrors.ErrLicenseIDRequired
	}
	rec := toLicenseKeyModel(entry)
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "license_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"license_type", "encrypted_payload", "max_activations", "expires_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("put license key: %w", err)
	}
	return nil
}

// Lookup returns the entry for licenseID
func (c *Catalog) Lookup(ctx context.Context, licenseID string) (*license.CatalogEntry, error) {
	var rec licenseKeyModel
	err := c.db.WithContext(ctx).Where("license_id = ?", licenseID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", licenseErrors.ErrUnknownLicenseKey, license.MaskLicenseID(licenseID))
	}
	if err != nil {
		return nil, fmt.Errorf("lookup license key: %w", err)
	}
	entry := toCatalogEntry(rec)
	return &entry, nil
}

// RecordActivation applies an activation change. A deactivation only
// clears is_active.
func (c *Catalog) RecordActivation(ctx context.Context, licenseID string, update license.ActivationUpdate) error {
	changes := map[string]interface{}{"is_active": update.Active}
	if update.Active {
		changes["current_activations"] = update.Activations
		if update.Fingerprint != "" {
			changes["hardware_fingerprint"] = update.Fingerprint
		}
	}

	res := c.db.WithContext(ctx).Model(&licenseKeyModel{}).Where("license_id = ?", licenseID).Updates(changes)
	if res.Error != nil {
		return fmt.Errorf("record activation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return licenseErrors.ErrUnknownLicenseKey
	}
	return nil
}

// List returns every entry ordered by creation time
func (c *Catalog) List(ctx context.Context) ([]license.CatalogEntry, error) {
	var rows []licenseKeyModel
	if err := c.db.WithContext(ctx).Order("created_at ASC, license_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list license keys: %w", err)
	}
	out := make([]license.CatalogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCatalogEntry(row))
	}
	return out, nil
}
