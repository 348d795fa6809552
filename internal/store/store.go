package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"isxlicense/internal/infrastructure"
	"isxlicense/internal/security"
)

// Backend names the storage mechanism behind an Adapter
type Backend string

const (
	BackendKeyring Backend = "keyring"
	BackendFile    Backend = "file"
	BackendMemory  Backend = "memory"
)

// DefaultTimeout bounds keyring calls and lock acquisition when no timeout is configured
const DefaultTimeout = 3 * time.Second

var (
	// ErrTimeout is returned when the platform store or file lock did not answer in time
	ErrTimeout = errors.New("secure store timed out")
	// ErrUnavailable is returned when the backend refused the operation
	ErrUnavailable = errors.New("secure store unavailable")
	// ErrCorrupt is returned when stored data cannot be decrypted or parsed
	ErrCorrupt = errors.New("secure store data corrupt")
)

// StoreError describes a failed store operation
type StoreError struct {
	Op      string
	Backend Backend
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation may succeed.
// Corrupt data stays corrupt.
func (e *StoreError) Retryable() bool {
	return !errors.Is(e.Err, ErrCorrupt)
}

// Adapter stores one opaque blob
type Adapter interface {
	Store(ctx context.Context, data []byte) error
	// Load returns found=false, with no error, when nothing is stored.
	Load(ctx context.Context) (data []byte, found bool, err error)
	// Clear is idempotent.
	Clear(ctx context.Context) error
	Backend() Backend
	Degraded() bool
}

// UpdateFunc receives the current blob and returns the replacement.
// Returning nil data clears the entry.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Updater is implemented by adapters that can read-modify-write atomically
type Updater interface {
	Update(ctx context.Context, fn UpdateFunc) error
}

// Options configures Open
type Options struct {
	// Backend is auto, keyring, file or memory. Empty means auto.
	Backend string
	// Service is the keyring service name.
	Service string
	Timeout time.Duration
	// FilePath and LockPath locate the encrypted fallback file.
	FilePath string
	LockPath string
	// Passphrase protects the fallback file. Empty derives one from the
	// service and host name.
	Passphrase []byte
	Encryption *security.EncryptionConfig
	Logger     *slog.Logger
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return infrastructure.GetLogger()
}

// Open returns the adapter for account according to opts.Backend.
// With auto the keyring is probed first and FileStore is used when the
// probe fails; the fallback is logged and reported through Degraded.
func Open(ctx context.Context, opts Options, account string) (Adapter, error) {
	logger := opts.logger()

	switch strings.ToLower(opts.Backend) {
	case string(BackendMemory):
		return NewMemoryStore(), nil

	case string(BackendFile):
		return NewFileStore(opts, account)

	case string(BackendKeyring):
		ks := NewKeyringStore(opts.Service, account, opts.timeout())
		if err := ks.Probe(ctx); err != nil {
			return nil, err
		}
		return ks, nil

	case "", "auto":
		ks := NewKeyringStore(opts.Service, account, opts.timeout())
		err := ks.Probe(ctx)
		if err == nil {
			logger.InfoContext(ctx, "Secure store opened",
				slog.String("action", "store_open"),
				slog.String("backend", string(BackendKeyring)),
				slog.String("account", account),
			)
			return ks, nil
		}
		logger.WarnContext(ctx, "OS keyring unavailable, using encrypted file store",
			slog.String("action", "store_fallback"),
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		return NewFileStore(opts, account)

	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// DerivePassphrase builds a host bound passphrase for the fallback file.
// It only keeps the file from being readable on another machine.
func DerivePassphrase(service string) []byte {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	sum := sha256.Sum256([]byte("isxlic-store|" + service + "|" + strings.ToLower(host)))
	return sum[:]
}

// probeAccount returns a unique throwaway account name
func probeAccount(account string) string {
	return account + ".probe." + uuid.NewString()
}
