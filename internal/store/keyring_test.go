package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// blockingProvider never answers until released
type blockingProvider struct {
	release chan struct{}
}

func (b *blockingProvider) Set(string, string, string) error {
	<-b.release
	return nil
}

func (b *blockingProvider) Get(string, string) (string, error) {
	<-b.release
	return "", keyring.ErrNotFound
}

func (b *blockingProvider) Delete(string, string) error {
	<-b.release
	return nil
}

// panickingProvider simulates a broken platform binding
type panickingProvider struct{}

func (panickingProvider) Set(string, string, string) error   { panic("cgo failure") }
func (panickingProvider) Get(string, string) (string, error) { panic("cgo failure") }
func (panickingProvider) Delete(string, string) error        { panic("cgo failure") }

// recordingProvider is an in-memory provider counting calls
type recordingProvider struct {
	mu     sync.Mutex
	values map[string]string
	calls  int
}

func (r *recordingProvider) Set(service, user, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.values == nil {
		r.values = map[string]string{}
	}
	r.values[service+"/"+user] = password
	return nil
}

func (r *recordingProvider) Get(service, user string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	v, ok := r.values[service+"/"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (r *recordingProvider) Delete(service, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if _, ok := r.values[service+"/"+user]; !ok {
		return keyring.ErrNotFound
	}
	delete(r.values, service+"/"+user)
	return nil
}

// TestKeyringTimeout tests that a hung platform call returns ErrTimeout
func TestKeyringTimeout(t *testing.T) {
	bp := &blockingProvider{release: make(chan struct{})}
	defer close(bp.release)

	ks := NewKeyringStore("svc", "license", 50*time.Millisecond)
	ks.provider = bp

	start := time.Now()
	_, _, err := ks.Load(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, BackendKeyring, se.Backend)
	assert.Equal(t, "load", se.Op)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, se.Retryable())
}

// gatedProvider holds writes until the gate opens
type gatedProvider struct {
	*recordingProvider
	gate chan struct{}
}

func (g *gatedProvider) Set(service, user, password string) error {
	<-g.gate
	return g.recordingProvider.Set(service, user, password)
}

// TestKeyringLateWriteIsObserved tests that a write abandoned on timeout is waited for by the next call
func TestKeyringLateWriteIsObserved(t *testing.T) {
	gp := &gatedProvider{recordingProvider: &recordingProvider{}, gate: make(chan struct{})}
	ks := NewKeyringStore("svc", "license", 50*time.Millisecond)
	ks.provider = gp

	err := ks.Store(context.Background(), []byte("late"))
	require.ErrorIs(t, err, ErrTimeout)

	// the write is still in flight, so the read does not guess
	_, _, err = ks.Load(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	gp.mu.Lock()
	assert.Zero(t, gp.calls, "no read raced the pending write")
	gp.mu.Unlock()

	close(gp.gate)
	data, found, err := ks.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("late"), data)
}

// TestKeyringContextCancel tests that a cancelled context ends the wait
func TestKeyringContextCancel(t *testing.T) {
	bp := &blockingProvider{release: make(chan struct{})}
	defer close(bp.release)

	ks := NewKeyringStore("svc", "license", time.Minute)
	ks.provider = bp

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ks.Store(ctx, []byte("x"))
	assert.ErrorIs(t, err, ErrTimeout)
}

// TestKeyringPanicRecovered tests that a panicking binding becomes an error
func TestKeyringPanicRecovered(t *testing.T) {
	ks := NewKeyringStore("svc", "license", time.Second)
	ks.provider = panickingProvider{}

	err := ks.Store(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "cgo failure")

	assert.Error(t, ks.Probe(context.Background()))
}

// TestKeyringProbe tests that a probe leaves no entries behind
func TestKeyringProbe(t *testing.T) {
	rp := &recordingProvider{}
	ks := NewKeyringStore("svc", "license", time.Second)
	ks.provider = rp

	require.NoError(t, ks.Probe(context.Background()))
	assert.Equal(t, 3, rp.calls)
	assert.Empty(t, rp.values)
}

// TestKeyringCorruptValue tests that a non-base64 entry is reported as corrupt
func TestKeyringCorruptValue(t *testing.T) {
	rp := &recordingProvider{values: map[string]string{"svc/license": "%%%not-base64"}}
	ks := NewKeyringStore("svc", "license", time.Second)
	ks.provider = rp

	_, _, err := ks.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Retryable())
}

// TestKeyringAccountsIsolated tests that accounts under one service do not collide
func TestKeyringAccountsIsolated(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	license := NewKeyringStore("svc", "license", time.Second)
	trials := NewKeyringStore("svc", "trials", time.Second)

	require.NoError(t, license.Store(ctx, []byte("token")))
	require.NoError(t, trials.Store(ctx, []byte("ledger")))
	require.NoError(t, license.Clear(ctx))

	data, found, err := trials.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("ledger"), data)
}
