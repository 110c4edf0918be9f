package kvstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local development.
// It stores JSON documents keyed by normalized path and supports the same
// tree-read semantics as the Firebase backend: reading a prefix returns an
// object keyed by the immediate child segment.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func normalize(path string) string {
	return strings.Trim(path, "/")
}

func (m *MemoryStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path = normalize(path)
	if raw, ok := m.data[path]; ok {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return cp, nil
	}

	// Prefix read: assemble the whole subtree, nesting records by their
	// path segments the way Firebase returns a node's children.
	prefix := path + "/"
	tree := make(map[string]any)
	found := false
	for k, v := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		found = true
		segs := strings.Split(strings.TrimPrefix(k, prefix), "/")
		node := tree
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = v
	}
	if !found {
		return nil, ErrNotFound
	}
	return json.Marshal(tree)
}

func (m *MemoryStore) Set(_ context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[normalize(path)] = raw
	return nil
}

func (m *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = normalize(path)
	merged := make(map[string]json.RawMessage)
	if raw, ok := m.data[path]; ok {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return err
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		merged[k] = raw
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	m.data[path] = raw
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = normalize(path)
	_, existed := m.data[path]
	delete(m.data, path)

	// Remove any subtree entries as well.
	prefix := path + "/"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			existed = true
		}
	}
	return existed, nil
}
