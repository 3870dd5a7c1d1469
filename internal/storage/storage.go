// Package storage defines the key/value boundary the session core persists to.
//
// A browser offers two such stores: one survives restarts and is shared by
// every tab of a profile, the other lives and dies with a single tab. Both
// are modelled by Store; which one a value lands in is decided by the
// session package, not here.
package storage

import (
	"context"
	"sync"
)

// Store is a string key/value store.
//
// Get reports ok=false for a missing key; that is not an error. Delete of a
// missing key is a no-op.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory is a map-backed Store. A fresh Memory per tab is the volatile
// store; sharing one Memory between tabs stands in for a durable store in
// tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of keys held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
