package store

import (
	"sync"

	"github.com/randalmurphal/tally/pkg/tally/event"
)

// MemoryStore is an in-process event store.
// Events are lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	q      *queue
	closed bool
}

// NewMemoryStore creates a store holding at most maxEvents events.
func NewMemoryStore(maxEvents int) *MemoryStore {
	return &MemoryStore{q: newQueue(normalizeMax(maxEvents))}
}

// Store implements Store.
func (m *MemoryStore) Store(evt event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.q.push(evt)
	return nil
}

// FetchEvents implements Store.
func (m *MemoryStore) FetchEvents(limit int) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return m.q.peek(limit), nil
}

// RemoveEvents implements Store.
func (m *MemoryStore) RemoveEvents(events []event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.q.remove(events)
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.q.reset()
	return nil
}

// EventCount implements Store.
func (m *MemoryStore) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0
	}
	return m.q.len()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.q.reset()
	return nil
}
