package store

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps the blob in process memory
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	found bool
}

// NewMemoryStore creates an empty in-memory adapter
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Backend() Backend { return BackendMemory }
func (m *MemoryStore) Degraded() bool   { return false }

func (m *MemoryStore) Store(_ context.Context, data []byte) error {
	if len(data) == 0 {
		return &StoreError{Op: "store", Backend: BackendMemory, Err: errors.New("empty blob")}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.found = true
	return nil
}

func (m *MemoryStore) Load(_ context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.found {
		return nil, false, nil
	}
	return append([]byte(nil), m.data...), true, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.found = false
	return nil
}

func (m *MemoryStore) Update(_ context.Context, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if m.found {
		current = append([]byte(nil), m.data...)
	}
	next, err := fn(current, m.found)
	if err != nil {
		return err
	}
	if next == nil {
		m.data = nil
		m.found = false
		return nil
	}
	m.data = append([]byte(nil), next...)
	m.found = true
	return nil
}
