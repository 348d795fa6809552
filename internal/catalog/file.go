package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	licenseErrors "isxlicense/internal/errors"
	"isxlicense/internal/license"
	"isxlicense/internal/shared/filelock"
)

const catalogVersion = 1

type catalogDoc struct {
	Version int                             `json:"version"`
	Entries map[string]license.CatalogEntry `json:"entries"`
}

// FileCatalog stores the catalog as a single JSON document guarded by a
// file lock. Writes replace the document atomically.
type FileCatalog struct {
	path    string
	lock    *flock.Flock
	timeout time.Duration
	mu      sync.Mutex
}

// NewFileCatalog creates a catalog at path; the file is created on first write
func NewFileCatalog(path string, lockTimeout time.Duration) (*FileCatalog, error) {
	if path == "" {
		return nil, errors.New("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &FileCatalog{
		path:    path,
		lock:    flock.New(path + ".lock"),
		timeout: lockTimeout,
	}, nil
}

// Path returns the catalog file location
func (c *FileCatalog) Path() string { return c.path }

// Put inserts or replaces an entry. Activation counters of an existing
// entry are kept.
func (c *FileCatalog) Put(ctx context.Context, entry license.CatalogEntry) error {
	if entry.LicenseID == "" {
		return licenseErrors.ErrLicenseIDRequired
	}
	return c.update(ctx, func(doc *catalogDoc) error {
		if existing, ok := doc.Entries[entry.LicenseID]; ok {
			entry.CurrentActivations = existing.CurrentActivations
			entry.HardwareFingerprint = existing.HardwareFingerprint
			entry.IsActive = existing.IsActive
			entry.CreatedAt = existing.CreatedAt
		}
		doc.Entries[entry.LicenseID] = entry
		return nil
	})
}

// Lookup returns the entry for licenseID
func (c *FileCatalog) Lookup(ctx context.Context, licenseID string) (*license.CatalogEntry, error) {
	var found *license.CatalogEntry
	err := c.read(ctx, func(doc *catalogDoc) {
		if e, ok := doc.Entries[licenseID]; ok {
			found = &e
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", licenseErrors.ErrUnknownLicenseKey, license.MaskLicenseID(licenseID))
	}
	return found, nil
}

// RecordActivation applies an activation change
func (c *FileCatalog) RecordActivation(ctx context.Context, licenseID string, update license.ActivationUpdate) error {
	return c.update(ctx, func(doc *catalogDoc) error {
		e, ok := doc.Entries[licenseID]
		if !ok {
			return licenseErrors.ErrUnknownLicenseKey
		}
		applyActivation(&e, update)
		doc.Entries[licenseID] = e
		return nil
	})
}

// List returns every entry ordered by creation time
func (c *FileCatalog) List(ctx context.Context) ([]license.CatalogEntry, error) {
	var out []license.CatalogEntry
	err := c.read(ctx, func(doc *catalogDoc) {
		for _, e := range doc.Entries {
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LicenseID < out[j].LicenseID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

// applyActivation is shared with the SQL backend's semantics: a
// deactivation only clears is_active.
func applyActivation(e *license.CatalogEntry, update license.ActivationUpdate) {
	e.IsActive = update.Active
	if !update.Active {
		return
	}
	e.CurrentActivations = update.Activations
	if update.Fingerprint != "" {
		e.HardwareFingerprint = update.Fingerprint
	}
}

func (c *FileCatalog) read(ctx context.Context, fn func(doc *catalogDoc)) error {
	return c.withLock(ctx, true, func() error {
		doc, err := c.load()
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	})
}

func (c *FileCatalog) update(ctx context.Context, fn func(doc *catalogDoc) error) error {
	return c.withLock(ctx, false, func() error {
		doc, err := c.load()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return c.save(doc)
	})
}

func (c *FileCatalog) load() (*catalogDoc, error) {
	doc := &catalogDoc{Version: catalogVersion, Entries: make(map[string]license.CatalogEntry)}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("catalog %s is corrupt: %w", c.path, err)
	}
	if doc.Version != catalogVersion {
		return nil, fmt.Errorf("catalog %s has unsupported version %d", c.path, doc.Version)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]license.CatalogEntry)
	}
	return doc, nil
}

func (c *FileCatalog) save(doc *catalogDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to set catalog permissions: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

func (c *FileCatalog) withLock(ctx context.Context, shared bool, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return filelock.With(ctx, c.lock, c.timeout, shared, fn)
}
