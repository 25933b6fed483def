package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stalegate/stalegate/internal/cache"
)

// memoryStore is an in-memory cache.Store that records every call.
type memoryStore struct {
	mu       sync.Mutex
	entries  map[string][]byte
	probes   int
	reads    int
	writes   int
	probeErr error
	writeErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[string][]byte{}}
}

func (m *memoryStore) Probe(_ context.Context, key string) (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	if m.probeErr != nil {
		return false, nil, m.probeErr
	}
	data, ok := m.entries[key]
	return ok, data, nil
}

func (m *memoryStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	data, ok := m.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return data, nil
}

func (m *memoryStore) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.entries[key] = append([]byte(nil), data...)
	return nil
}

func (m *memoryStore) put(key, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = []byte(data)
}

func (m *memoryStore) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	return string(data), ok
}

func (m *memoryStore) calls() (probes, reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes, m.reads, m.writes
}

var errDiskFull = errors.New("disk full")

// unreachableURL returns a base URL whose port has no listener.
func unreachableURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return "http://" + addr
}
