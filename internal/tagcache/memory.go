// Package tagcache keeps the catalog of tag names close to request handling.
package tagcache

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local tag catalog.
type Memory struct {
	mu     sync.RWMutex
	names  map[string]struct{}
	warmed bool
}

// NewMemory constructs an empty, unwarmed catalog.
func NewMemory() *Memory {
	return &Memory{names: make(map[string]struct{})}
}

// Names returns the sorted catalog and whether it has been warmed.
func (m *Memory) Names(context.Context) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.names), m.warmed, nil
}

// Add records names without changing the warmed state.
func (m *Memory) Add(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.names[name] = struct{}{}
	}
	return nil
}

// Replace swaps the catalog and marks it warmed.
func (m *Memory) Replace(_ context.Context, names []string) error {
	next := make(map[string]struct{}, len(names))
	for _, name := range names {
		next[name] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = next
	m.warmed = true
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
