// Package store persists fingerprint cache maps under a namespace.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// ErrInvalidNamespace is returned for empty namespaces or namespaces containing path separators.
var ErrInvalidNamespace = errors.New("invalid namespace")

// Store loads and saves a string map per namespace.
// Load of an unknown namespace returns an empty map and no error.
type Store interface {
	Load(ctx context.Context, namespace string) (map[string]string, error)
	Save(ctx context.Context, namespace string, entries map[string]string) error
	Clear(ctx context.Context, namespace string) error
}

// ValidateNamespace checks that namespace can be used as a file name or table key.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if strings.ContainsAny(namespace, `/\`) || namespace == "." || namespace == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return nil
}

// Memory is an in-process Store. The zero value is not usable; use NewMemory.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

// Load returns a copy of the entries saved under namespace.
func (m *Memory) Load(_ context.Context, namespace string) (map[string]string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.data[namespace]))
	maps.Copy(out, m.data[namespace])
	return out, nil
}

// Save replaces the entries under namespace with a copy of entries.
func (m *Memory) Save(_ context.Context, namespace string, entries map[string]string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[namespace] = maps.Clone(entries)
	return nil
}

// Clear removes the namespace.
func (m *Memory) Clear(_ context.Context, namespace string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, namespace)
	return nil
}

// Namespaces returns the number of namespaces currently held.
func (m *Memory) Namespaces() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
