// Package storage persists the tracker's per-client local state behind a
// pluggable key/value Adapter and exposes it through a typed Repository.
package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("storage: key not found")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt value")
)

// Adapter is a string key/value store.
type Adapter interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryAdapter keeps state in process memory. Used in tests and local development.
type MemoryAdapter struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryAdapter returns an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{values: make(map[string]string)}
}

func (m *MemoryAdapter) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryAdapter) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			delete(m.values, k)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) Ping(context.Context) error { return nil }

func (m *MemoryAdapter) Close() error { return nil }

// Len returns the number of stored keys.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
