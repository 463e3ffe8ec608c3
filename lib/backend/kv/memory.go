package kv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/mercato/go-mercato/lib/types/store"
)

// MemStore is an in-memory KVStore for tests and ephemeral repos.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	seqs map[string]uint64
}

var _ store.KVStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
		seqs: make(map[string]uint64),
	}
}

func (m *MemStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// like the badger store, a missing key is not an error
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemStore) GetNext(key []byte, bandwidth int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[string(key)]++
	return m.seqs[string(key)], nil
}

func (m *MemStore) Iter(prefix []byte, fn func(k, v []byte) error) int64 {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	var count int64
	for _, k := range keys {
		m.mu.RLock()
		v, ok := m.data[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return count
		}
		count++
	}
	return count
}

func (m *MemStore) IterKeys(prefix []byte, fn func(k []byte) error) int64 {
	return m.Iter(prefix, func(k, v []byte) error {
		return fn(k)
	})
}

func (m *MemStore) Sync() error {
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
