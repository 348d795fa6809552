package revocation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"isxlicense/internal/infrastructure"
	"isxlicense/internal/shared/filelock"
)

// maxLineSize bounds a single JSON line
const maxLineSize = 64 * 1024

// FileRegistry stores entries as JSON lines in a local file
type FileRegistry struct {
	path    string
	lock    *flock.Flock
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.Mutex
}

// FileOption configures a FileRegistry
type FileOption func(*FileRegistry)

// WithClock overrides the time source used for default revocation times
func WithClock(now func() time.Time) FileOption {
	return func(r *FileRegistry) { r.now = now }
}

// WithLogger sets the logger used for skipped lines
func WithLogger(logger *slog.Logger) FileOption {
	return func(r *FileRegistry) { r.logger = logger }
}

// WithLockTimeout bounds lock acquisition
func WithLockTimeout(d time.Duration) FileOption {
	return func(r *FileRegistry) { r.timeout = d }
}

// NewFileRegistry creates a registry at path; the file is created on first write
func NewFileRegistry(path string, opts ...FileOption) (*FileRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	r := &FileRegistry{
		path:    path,
		lock:    flock.New(path + ".lock"),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = infrastructure.GetLogger()
	}
	return r, nil
}

// Revoke appends a new entry
func (r *FileRegistry) Revoke(ctx context.Context, licenseID, reason string, permanent bool, opts ...RevokeOption) error {
	entry, err := NewEntry(licenseID, reason, permanent, r.now(), opts...)
	if err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode revocation: %w", err)
	}
	line = append(line, '\n')

	return r.withLock(ctx, false, func() error {
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open registry: %w", err)
		}
		defer f.Close()

		// isolate a torn trailing line left by a crash
		torn, err := filelock.EndsWithoutNewline(f)
		if err != nil {
			return err
		}
		if torn {
			line = append([]byte{'\n'}, line...)
		}

		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("failed to append revocation: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("failed to sync registry: %w", err)
		}
		return nil
	})
}

// IsRevoked reports the authoritative entry for licenseID at now
func (r *FileRegistry) IsRevoked(ctx context.Context, licenseID string, now time.Time) (*Entry, error) {
	entries, err := r.Entries(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	entry, revoked := Authoritative(entries, now)
	if !revoked {
		return nil, nil
	}
	return entry, nil
}

// Snapshot reads every entry
func (r *FileRegistry) Snapshot(ctx context.Context) (*Snapshot, error) {
	entries, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(entries), nil
}

// Entries returns the entries for licenseID in insertion order
func (r *FileRegistry) Entries(ctx context.Context, licenseID string) ([]Entry, error) {
	entries, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.LicenseID == licenseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *FileRegistry) readAll(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := r.withLock(ctx, true, func() error {
		f, err := os.Open(r.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to open registry: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil || e.LicenseID == "" {
				r.logger.WarnContext(ctx, "Skipping unreadable revocation entry",
					slog.String("action", "registry_skip_line"),
					slog.String("path", r.path),
					slog.Int("line", lineNo),
				)
				continue
			}
			entries = append(entries, e)
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read registry: %w", err)
		}
		return nil
	})
	return entries, err
}

func (r *FileRegistry) withLock(ctx context.Context, shared bool, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filelock.With(ctx, r.lock, r.timeout, shared, fn)
}
