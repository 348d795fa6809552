package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"isxlicense/internal/security"
	"isxlicense/internal/shared/filelock"
)

const fileFormatVersion = 1

// fileEnvelope is the on-disk layout: one encrypted payload per account
type fileEnvelope struct {
	Version  int                                   `json:"version"`
	Accounts map[string]*security.EncryptedPayload `json:"accounts"`
}

// FileStore keeps the blob encrypted in a local file shared by all accounts.
// It is the inferior fallback for hosts without a usable keyring.
type FileStore struct {
	path       string
	account    string
	lock       *flock.Flock
	passphrase []byte
	encryption *security.EncryptionConfig
	timeout    time.Duration
	mu         sync.Mutex
}

// NewFileStore creates the encrypted file adapter for account
func NewFileStore(opts Options, account string) (*FileStore, error) {
	if opts.FilePath == "" {
		return nil, &StoreError{Op: "open", Backend: BackendFile, Err: fmt.Errorf("%w: no store file configured", ErrUnavailable)}
	}
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = opts.FilePath + ".lock"
	}
	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o700); err != nil {
		return nil, &StoreError{Op: "open", Backend: BackendFile, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	passphrase := opts.Passphrase
	if len(passphrase) == 0 {
		passphrase = DerivePassphrase(opts.Service)
	}
	enc := opts.Encryption
	if enc == nil {
		enc = security.DefaultEncryptionConfig()
	}

	return &FileStore{
		path:       opts.FilePath,
		account:    account,
		lock:       flock.New(lockPath),
		passphrase: passphrase,
		encryption: enc,
		timeout:    opts.timeout(),
	}, nil
}

func (f *FileStore) Backend() Backend { return BackendFile }

// Degraded is always true: a local file is weaker than the OS keyring.
func (f *FileStore) Degraded() bool { return true }

// Path returns the store file location
func (f *FileStore) Path() string { return f.path }

// Store implements Adapter
func (f *FileStore) Store(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return &StoreError{Op: "store", Backend: BackendFile, Err: errors.New("empty blob")}
	}
	return f.Update(ctx, func([]byte, bool) ([]byte, error) { return data, nil })
}

// Load implements Adapter
func (f *FileStore) Load(ctx context.Context) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := f.withLock(ctx, "load", func() error {
		env, err := f.readEnvelope()
		if err != nil {
			return err
		}
		out, found, err = f.open(env)
		return err
	})
	if err != nil {
		return nil, false, f.wrap("load", err)
	}
	return out, found, nil
}

// Clear implements Adapter
func (f *FileStore) Clear(ctx context.Context) error {
	return f.Update(ctx, func([]byte, bool) ([]byte, error) { return nil, nil })
}

// Update implements Updater. The file lock is held across the read and the
// write so concurrent processes cannot interleave.
func (f *FileStore) Update(ctx context.Context, fn UpdateFunc) error {
	err := f.withLock(ctx, "update", func() error {
		env, err := f.readEnvelope()
		if err != nil {
			return err
		}
		current, found, err := f.open(env)
		if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return &callbackError{err}
		}

		if next == nil {
			if !found {
				return nil
			}
			delete(env.Accounts, f.account)
		} else {
			payload, err := security.EncryptBlob(next, f.passphrase, []byte(f.account), f.encryption)
			if err != nil {
				return err
			}
			env.Accounts[f.account] = payload
		}
		return f.writeEnvelope(env)
	})
	var cbErr *callbackError
	if errors.As(err, &cbErr) {
		return cbErr.err
	}
	if err != nil {
		return f.wrap("update", err)
	}
	return nil
}

// callbackError carries an UpdateFunc error out unwrapped
type callbackError struct{ err error }

func (c *callbackError) Error() string { return c.err.Error() }

func (f *FileStore) open(env *fileEnvelope) ([]byte, bool, error) {
	payload, ok := env.Accounts[f.account]
	if !ok || payload == nil {
		return nil, false, nil
	}
	data, err := security.DecryptBlob(payload, f.passphrase, []byte(f.account), f.encryption)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return data, true, nil
}

// withLock serialises access within the process and across processes
func (f *FileStore) withLock(ctx context.Context, op string, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	locked, err := f.lock.TryLockContext(lockCtx, filelock.RetryDelay)
	if err != nil {
		if lockCtx.Err() != nil {
			return ErrTimeout
		}
		return fmt.Errorf("%w: lock %s: %v", ErrUnavailable, op, err)
	}
	if !locked {
		return ErrTimeout
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}

func (f *FileStore) readEnvelope() (*fileEnvelope, error) {
	env := &fileEnvelope{Version: fileFormatVersion, Accounts: map[string]*security.EncryptedPayload{}}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return env, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return env, nil
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: unsupported store file version %d", ErrCorrupt, env.Version)
	}
	if env.Accounts == nil {
		env.Accounts = map[string]*security.EncryptedPayload{}
	}
	return env, nil
}

// writeEnvelope replaces the file with write-temp, fsync, rename
func (f *FileStore) writeEnvelope(env *fileEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FileStore) wrap(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Backend: BackendFile, Err: err}
}
