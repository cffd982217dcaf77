package settings

import (
	"strconv"
	"sync"
)

// MemoryStore is an in-memory settings store for tests and ephemeral clients.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// GetString implements Store.
func (m *MemoryStore) GetString(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrStoreClosed
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetString implements Store.
func (m *MemoryStore) SetString(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.data[key] = value
	return nil
}

// GetInt64 implements Store.
func (m *MemoryStore) GetInt64(key string) (int64, error) {
	raw, err := m.GetString(key)
	if err != nil {
		return 0, err
	}
	return parseInt64(key, raw)
}

// SetInt64 implements Store.
func (m *MemoryStore) SetInt64(key string, value int64) error {
	return m.SetString(key, strconv.FormatInt(value, 10))
}

// Delete implements Store.
func (m *MemoryStore) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
