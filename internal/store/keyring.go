package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

// keyringProvider is the subset of go-keyring used by KeyringStore
type keyringProvider interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// osKeyring forwards to the package level go-keyring functions so that
// keyring.MockInit also applies.
type osKeyring struct{}

func (osKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Delete(service, user string) error        { return keyring.Delete(service, user) }

// KeyringStore keeps the blob in the OS credential store.
//
// A platform call that outlives the timeout keeps running and may still
// land after ErrTimeout was returned. The next call waits for it before
// touching the keyring, so a Load never reports state older than a write
// that already returned ErrTimeout.
type KeyringStore struct {
	service  string
	account  string
	timeout  time.Duration
	provider keyringProvider
	mu       sync.Mutex
	// straggler is closed when the last abandoned call returns
	straggler chan struct{}
}

// NewKeyringStore creates a keyring backed adapter
func NewKeyringStore(service, account string, timeout time.Duration) *KeyringStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &KeyringStore{
		service:  service,
		account:  account,
		timeout:  timeout,
		provider: osKeyring{},
	}
}

// Backend implements Adapter
func (k *KeyringStore) Backend() Backend { return BackendKeyring }

// Degraded implements Adapter
func (k *KeyringStore) Degraded() bool { return false }

// Store implements Adapter
func (k *KeyringStore) Store(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return &StoreError{Op: "store", Backend: BackendKeyring, Err: errors.New("empty blob")}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.set(ctx, data)
}

// Load implements Adapter
func (k *KeyringStore) Load(ctx context.Context) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.get(ctx)
}

// Clear implements Adapter
func (k *KeyringStore) Clear(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.delete(ctx)
}

// Update implements Updater. Atomic within this process only.
func (k *KeyringStore) Update(ctx context.Context, fn UpdateFunc) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	current, found, err := k.get(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	if next == nil {
		return k.delete(ctx)
	}
	return k.set(ctx, next)
}

// Probe writes, reads back and deletes a throwaway entry
func (k *KeyringStore) Probe(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	account := probeAccount(k.account)
	want := "probe"

	err := k.call(ctx, "probe", func() error {
		if err := k.provider.Set(k.service, account, want); err != nil {
			return err
		}
		got, err := k.provider.Get(k.service, account)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("probe read back %q", got)
		}
		return k.provider.Delete(k.service, account)
	})
	return err
}

func (k *KeyringStore) set(ctx context.Context, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	return k.call(ctx, "store", func() error {
		return k.provider.Set(k.service, k.account, encoded)
	})
}

func (k *KeyringStore) get(ctx context.Context) ([]byte, bool, error) {
	var encoded string
	var notFound bool
	err := k.call(ctx, "load", func() error {
		v, err := k.provider.Get(k.service, k.account)
		if errors.Is(err, keyring.ErrNotFound) {
			notFound = true
			return nil
		}
		encoded = v
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if notFound {
		return nil, false, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, &StoreError{Op: "load", Backend: BackendKeyring, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	return data, true, nil
}

func (k *KeyringStore) delete(ctx context.Context) error {
	return k.call(ctx, "clear", func() error {
		err := k.provider.Delete(k.service, k.account)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	})
}

// call runs fn in its own goroutine so a platform call that never returns
// cannot block the caller past the timeout. k.mu must be held.
func (k *KeyringStore) call(ctx context.Context, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if k.straggler != nil {
		select {
		case <-k.straggler:
			k.straggler = nil
		case <-ctx.Done():
			return &StoreError{Op: op, Backend: BackendKeyring, Err: ErrTimeout}
		}
	}

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("keyring panic: %v", r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return &StoreError{Op: op, Backend: BackendKeyring, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
		}
		return nil
	case <-ctx.Done():
		k.straggler = finished
		return &StoreError{Op: op, Backend: BackendKeyring, Err: ErrTimeout}
	}
}
