package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"isxlicense/internal/security"
	"isxlicense/internal/shared/testutil"
)

func fastEncryption() *security.EncryptionConfig {
	cfg := security.DefaultEncryptionConfig()
	cfg.SCryptN = 1024
	return cfg
}

func testOptions(t *testing.T, backend string) Options {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	dir := t.TempDir()
	return Options{
		Backend:    backend,
		Service:    "isx-license-test",
		Timeout:    time.Second,
		FilePath:   filepath.Join(dir, "license.store"),
		Passphrase: []byte("isx-test-store-passphrase"),
		Encryption: fastEncryption(),
		Logger:     logger,
	}
}

// TestOpen tests backend selection and keyring fallback
func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		backend      string
		keyringErr   error
		wantBackend  Backend
		wantDegraded bool
		wantErr      bool
	}{
		{name: "memory", backend: "memory", wantBackend: BackendMemory},
		{name: "file", backend: "file", wantBackend: BackendFile, wantDegraded: true},
		{name: "keyring", backend: "keyring", wantBackend: BackendKeyring},
		{name: "auto with keyring", backend: "auto", wantBackend: BackendKeyring},
		{name: "empty means auto", backend: "", wantBackend: BackendKeyring},
		{name: "auto falls back", backend: "auto", keyringErr: errors.New("no dbus"), wantBackend: BackendFile, wantDegraded: true},
		{name: "keyring required", backend: "keyring", keyringErr: errors.New("no dbus"), wantErr: true},
		{name: "unknown", backend: "vault", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.keyringErr != nil {
				keyring.MockInitWithError(tt.keyringErr)
			} else {
				keyring.MockInit()
			}

			opts := testOptions(t, tt.backend)
			adapter, err := Open(ctx, opts, "license")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBackend, adapter.Backend())
			assert.Equal(t, tt.wantDegraded, adapter.Degraded())
		})
	}
}

// TestOpenFallbackLogged tests that a keyring fallback is visible in the logs
func TestOpenFallbackLogged(t *testing.T) {
	keyring.MockInitWithError(errors.New("locked"))
	logger, logs := testutil.NewTestLogger(t)

	opts := testOptions(t, "auto")
	opts.Logger = logger
	_, err := Open(context.Background(), opts, "license")
	require.NoError(t, err)

	testutil.AssertLogAttr(t, logs, "action", "store_fallback")
}

// TestStoreErrorRetryable tests retry classification
func TestStoreErrorRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrTimeout, true},
		{ErrUnavailable, true},
		{ErrCorrupt, false},
	}
	for _, tt := range tests {
		se := &StoreError{Op: "load", Backend: BackendFile, Err: tt.err}
		assert.Equal(t, tt.want, se.Retryable(), tt.err.Error())
		assert.ErrorIs(t, se, tt.err)
		assert.Contains(t, se.Error(), "load")
	}
}

// TestAdapterContract runs the same behaviour checks against every backend
func TestAdapterContract(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	backends := map[string]func(t *testing.T) Adapter{
		"memory": func(t *testing.T) Adapter { return NewMemoryStore() },
		"keyring": func(t *testing.T) Adapter {
			return NewKeyringStore("isx-license-test", "contract-"+t.Name(), time.Second)
		},
		"file": func(t *testing.T) Adapter {
			fs, err := NewFileStore(testOptions(t, "file"), "license")
			require.NoError(t, err)
			return fs
		},
	}

	for name, newAdapter := range backends {
		t.Run(name, func(t *testing.T) {
			a := newAdapter(t)

			_, found, err := a.Load(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, a.Store(ctx, []byte("first")))
			require.NoError(t, a.Store(ctx, []byte("second")))
			data, found, err := a.Load(ctx)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("second"), data)

			assert.Error(t, a.Store(ctx, nil))

			require.NoError(t, a.Clear(ctx))
			require.NoError(t, a.Clear(ctx), "clear is idempotent")
			_, found, err = a.Load(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			u, ok := a.(Updater)
			require.True(t, ok)
			require.NoError(t, u.Update(ctx, func(cur []byte, found bool) ([]byte, error) {
				assert.False(t, found)
				return []byte("1"), nil
			}))
			require.NoError(t, u.Update(ctx, func(cur []byte, found bool) ([]byte, error) {
				assert.True(t, found)
				return append(cur, '2'), nil
			}))
			data, _, err = a.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("12"), data)

			boom := errors.New("boom")
			assert.ErrorIs(t, u.Update(ctx, func([]byte, bool) ([]byte, error) { return nil, boom }), boom)
			data, _, err = a.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("12"), data, "failed update leaves data untouched")
		})
	}
}

// TestDerivePassphrase tests the host bound fallback passphrase
func TestDerivePassphrase(t *testing.T) {
	a := DerivePassphrase("svc-a")
	assert.Len(t, a, 32)
	assert.Equal(t, a, DerivePassphrase("svc-a"))
	assert.NotEqual(t, a, DerivePassphrase("svc-b"))
}
