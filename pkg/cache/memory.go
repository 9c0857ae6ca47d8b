package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage keeps all stores in process memory.
// It is used by tests and by the proxy when no persistent backend is configured.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memoryStore),
	}
}

// Open returns the named store, creating it if absent.
func (m *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[name]
	if !ok {
		s = &memoryStore{name: name, entries: make(map[string]storedEntry)}
		m.stores[name] = s
	}
	return s, nil
}

// Has reports whether the named store exists.
func (m *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

// Delete removes the named store.
func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	delete(m.stores, name)
	s.mu.Lock()
	s.deleted = true
	s.entries = make(map[string]storedEntry)
	s.mu.Unlock()
	return true, nil
}

// Names lists the store names.
func (m *MemoryStorage) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

type storedEntry struct {
	key   RequestKey
	entry Entry
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[string]storedEntry
	// set once the store is deleted from its storage; writes are dropped
	deleted bool
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Match(_ context.Context, key RequestKey) (*Entry, error) {
	s.mu.RLock()
	stored, ok := s.entries[key.String()]
	s.mu.RUnlock()
	if !ok {
		CacheMisses.WithLabelValues(s.name).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(s.name, "memory").Inc()
	entry := copyEntry(stored.entry)
	return &entry, nil
}

func (s *memoryStore) Put(ctx context.Context, key RequestKey, entry *Entry) error {
	return s.PutAll(ctx, []Item{{Key: key, Entry: entry}})
}

func (s *memoryStore) PutAll(_ context.Context, items []Item) error {
	if err := validateItems(items); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return nil
	}
	for _, item := range items {
		s.entries[item.Key.String()] = storedEntry{key: item.Key, entry: copyEntry(*item.Entry)}
		StoredBytes.WithLabelValues("memory").Add(float64(item.Entry.Size()))
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key RequestKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key.String()]
	delete(s.entries, key.String())
	return ok, nil
}

func (s *memoryStore) Keys(_ context.Context) ([]RequestKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]RequestKey, 0, len(s.entries))
	for _, stored := range s.entries {
		keys = append(keys, stored.key)
	}
	sortKeys(keys)
	return keys, nil
}

// copyEntry detaches an entry from the caller's slices and headers.
func copyEntry(e Entry) Entry {
	out := e
	out.Headers = e.Headers.Clone()
	if e.Data != nil {
		out.Data = append([]byte(nil), e.Data...)
	}
	return out
}
