package kv

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Backend is a flat byte-value key store. Values are opaque to the backend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetNX writes only when the key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	// Update hands fn the current value and stores what it returns as one
	// atomic step; a nil result deletes the key and an error aborts without
	// writing. fn may run more than once when the key is contended.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Keys lists every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// MapBackend keeps values in process memory.
type MapBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMapBackend() *MapBackend {
	return &MapBackend{values: make(map[string][]byte)}
}

func (m *MapBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

func (m *MapBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = slices.Clone(value)
	return nil
}

func (m *MapBackend) SetNX(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = slices.Clone(value)
	return true, nil
}

func (m *MapBackend) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.values[key]
	next, err := fn(slices.Clone(current), exists)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.values, key)
		return nil
	}
	m.values[key] = slices.Clone(next)
	return nil
}

func (m *MapBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}
