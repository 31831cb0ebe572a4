/*
Copyright 2025 The memcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kv

import (
	"context"
	"sync"
)

// InMemoryConfig holds the configuration for the InMemoryStore.
type InMemoryConfig struct {
	// InitialCapacity pre-sizes the backing map. Zero is fine.
	InitialCapacity int `json:"initialCapacity"`
}

// InMemoryStore is a process-local, non-persistent implementation of the
// Store interface. It is the default development backend and the one tests
// run against.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = &InMemoryStore{}

// NewInMemoryStore creates a new InMemoryStore instance.
func NewInMemoryStore(cfg *InMemoryConfig) *InMemoryStore {
	capacity := 0
	if cfg != nil {
		capacity = cfg.InitialCapacity
	}

	return &InMemoryStore{
		data: make(map[string][]byte, capacity),
	}
}

// Get returns the most recently written value for key.
func (m *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok || len(value) == 0 {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Put makes subsequent Gets of key return value.
func (m *InMemoryStore) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = stored
	return nil
}

// Delete removes key and reports whether a value was present.
func (m *InMemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.data[key]
	delete(m.data, key)
	return ok && len(value) > 0, nil
}

// BatchGet returns every requested key whose value is present.
func (m *InMemoryStore) BatchGet(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok := m.data[key]
		if !ok || len(value) == 0 {
			continue
		}
		copied := make([]byte, len(value))
		copy(copied, value)
		out[key] = copied
	}
	return out, nil
}

// BatchDelete removes the given keys and returns the count actually removed.
func (m *InMemoryStore) BatchDelete(_ context.Context, keys []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if value, ok := m.data[key]; ok {
			if len(value) > 0 {
				removed++
			}
			delete(m.data, key)
		}
	}
	return removed, nil
}

// Iterate yields every live (key, value) pair. The snapshot is taken under
// the read lock, so concurrent mutation does not corrupt the iteration; it
// may or may not be observed.
func (m *InMemoryStore) Iterate(ctx context.Context, fn func(key string, value []byte) bool) error {
	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.data))
	for key, value := range m.data {
		snapshot[key] = value
	}
	m.mu.RUnlock()

	for key, value := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(value) == 0 {
			continue
		}
		if !fn(key, value) {
			return nil
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *InMemoryStore) Close(_ context.Context) error {
	return nil
}
