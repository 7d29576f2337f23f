package storage

import (
	"sync"

	"github.com/eternalApril/moonkv/internal/resp"
)

// MapStorage is a thread-safe key-value storage guarded by a single lock
type MapStorage struct {
	data map[string]resp.Value
	mu   sync.RWMutex
}

// NewMapStorage creates a new instance of MapStorage
func NewMapStorage() *MapStorage {
	return &MapStorage{
		data: make(map[string]resp.Value),
	}
}

// Get returns the value and true if the key is found
func (m *MapStorage) Get(key string) (resp.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.get(key)
}

// Set inserts or overwrites the value of key
func (m *MapStorage) Set(key string, value resp.Value) {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
}

// Delete deletes the key. Returns true if the key existed and was deleted
func (m *MapStorage) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		return true
	}
	return false
}

// Clear counts and removes all entries under one lock
func (m *MapStorage) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.clear()
}

// MGet looks up all keys under one read lock
func (m *MapStorage) MGet(keys []string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Item, len(keys))
	for i, key := range keys {
		items[i].Value, items[i].Found = m.get(key)
	}
	return items
}

// MSet writes all entries under one write lock
func (m *MapStorage) MSet(entries []Entry) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.data[e.Key] = e.Value
	}
	return len(entries)
}

// Len returns the number of stored keys
func (m *MapStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

// get must be called with the lock held
func (m *MapStorage) get(key string) (resp.Value, bool) {
	val, ok := m.data[key]
	return val, ok
}

// clear must be called with the write lock held
func (m *MapStorage) clear() int {
	n := len(m.data)
	clear(m.data)
	return n
}
