package websocket

import (
	"errors"
	"sync"
	"time"
)

// mockConnection is an in-memory Connection. ReadMessage returns queued
// reads and then readErr.
type mockConnection struct {
	mu      sync.Mutex
	written [][]byte
	reads   [][]byte
	readErr error
	closed  bool
}

func newMockConnection(reads ...[]byte) *mockConnection {
	return &mockConnection{reads: reads, readErr: errors.New("connection reset")}
}

func (m *mockConnection) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("connection closed")
	}
	m.written = append(m.written, data)
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reads) == 0 {
		return 0, nil, m.readErr
	}
	next := m.reads[0]
	m.reads = m.reads[1:]
	return 1, next, nil
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConnection) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetReadLimit(int64)                {}
func (m *mockConnection) SetPongHandler(func(string) error) {}
func (m *mockConnection) RemoteAddr() string                { return "127.0.0.1:50000" }
