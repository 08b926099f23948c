// Package memstore provides an in-memory Store for tests and development.
// Writes can be made to fail on demand to exercise crash-recovery paths.
package memstore

import (
	"slices"
	"strings"
	"sync"
)

// Memstore is an in-memory, insertion-ordered key/value store. The zero
// value is not usable; use New.
type Memstore struct {
	mu     sync.Mutex
	values map[string][]byte
	order  []string

	failPuts error
}

// New creates an empty Memstore.
func New() *Memstore {
	return &Memstore{values: make(map[string][]byte)}
}

// FailPuts makes every subsequent Put fail with err without applying the
// write, simulating a power loss at the moment of persistence. Pass nil to
// restore normal operation.
func (m *Memstore) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPuts = err
}

// Get returns the value for key and whether it exists.
func (m *Memstore) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Put writes value under key.
func (m *Memstore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPuts != nil {
		return m.failPuts
	}

	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = slices.Clone(value)
	return nil
}

// Delete removes key.
func (m *Memstore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[key]; ok {
		delete(m.values, key)
		m.order = slices.DeleteFunc(m.order, func(k string) bool { return k == key })
	}
	return nil
}

// List returns all keys with the given prefix in insertion order.
func (m *Memstore) List(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for _, k := range m.order {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
