package state

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps encoded snapshots in a map. Snapshots go through the
// same JSON codec as the persistent stores.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, project, stack string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[stackKey(project, stack)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", project, stack, ErrNotFound)
	}
	return decode(data)
}

func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[stackKey(snap.Project, snap.Stack)] = data
	m.saves++
	return nil
}

func (m *MemoryStore) ListStacks(_ context.Context, project string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := stackKey(project, "")
	var stacks []string
	for _, k := range slices.Sorted(maps.Keys(m.data)) {
		if name, ok := strings.CutPrefix(k, prefix); ok {
			stacks = append(stacks, name)
		}
	}
	return stacks, nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error {
	return nil
}
