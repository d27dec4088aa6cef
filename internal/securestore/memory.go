package securestore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Values are not encrypted; it exists for
// tests and for embedders that provide their own platform storage.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string

	// FailOn lets tests inject failures per operation ("get", "set", "delete").
	// A non-nil return aborts the operation with a StorageError.
	FailOn func(op, key string) error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value for key
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := m.fail("get", key); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := m.fail("set", key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

// Delete removes key
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := m.fail("delete", key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Has reports whether key is present
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

func (m *Memory) fail(op, key string) error {
	if m.FailOn == nil {
		return nil
	}
	if err := m.FailOn(op, key); err != nil {
		return &StorageError{Op: op, Key: key, Err: err}
	}
	return nil
}
