package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps generations in process memory. Entries are lost when
// the process exits.
type MemoryStorage struct {
	mu          sync.Mutex
	generations map[string]*MemoryStore
	order       []string
	closed      bool
}

// NewMemoryStorage creates an empty memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		generations: make(map[string]*MemoryStore),
	}
}

// Open returns the named generation, creating it if needed.
func (s *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	if err := ValidGeneration(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if st, ok := s.generations[name]; ok {
		return st, nil
	}

	st := NewMemoryStore(name)
	s.generations[name] = st
	s.order = append(s.order, name)
	return st, nil
}

// Names returns generation names in creation order.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...), nil
}

// Remove deletes the named generation and all of its entries.
func (s *MemoryStorage) Remove(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.generations[name]
	if !ok {
		return false, nil
	}
	st.clear()
	delete(s.generations, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Stats returns statistics for the named generation.
func (s *MemoryStorage) Stats(_ context.Context, name string) (CacheStats, error) {
	s.mu.Lock()
	st, ok := s.generations[name]
	s.mu.Unlock()

	if !ok {
		return CacheStats{}, ErrCacheMiss
	}
	return st.Stats(), nil
}

// Close drops every generation.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.generations {
		st.clear()
	}
	s.generations = make(map[string]*MemoryStore)
	s.order = nil
	s.closed = true
	return nil
}

// MemoryStore is a single in-memory generation. Insertion order is tracked
// with a linked list; a write to an existing key moves it to the back.
type MemoryStore struct {
	name string
	size int64

	items map[string]*list.Element
	order *list.List

	mu sync.RWMutex

	stats CacheStats
}

// memoryStoreEntry represents an entry in the memory store
type memoryStoreEntry struct {
	key   string
	entry *Entry
}

// NewMemoryStore creates an empty standalone generation.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:  name,
		items: make(map[string]*list.Element),
		order: list.New(),
		stats: CacheStats{Generation: name},
	}
}

// Name returns the generation name.
func (m *MemoryStore) Name() string {
	return m.name
}

// Match returns a copy of the entry stored under key.
func (m *MemoryStore) Match(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.stats.Misses++
		return nil, ErrCacheMiss
	}

	m.stats.Hits++
	m.stats.LastAccess = time.Now()
	return elem.Value.(*memoryStoreEntry).entry.Clone(), nil
}

// Put stores a copy of entry under key.
func (m *MemoryStore) Put(_ context.Context, key string, entry *Entry) error {
	stored := entry.Clone()
	if stored.Stored.IsZero() {
		stored.Stored = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		item := elem.Value.(*memoryStoreEntry)
		m.size += stored.Size() - item.entry.Size()
		item.entry = stored
		m.order.MoveToBack(elem)
		return nil
	}

	m.items[key] = m.order.PushBack(&memoryStoreEntry{key: key, entry: stored})
	m.size += stored.Size()
	return nil
}

// Delete removes key, reporting whether it was present.
func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return false, nil
	}

	m.order.Remove(elem)
	delete(m.items, key)
	m.size -= elem.Value.(*memoryStoreEntry).entry.Size()
	m.stats.Evictions++
	return true, nil
}

// Keys returns all keys, oldest first.
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memoryStoreEntry).key)
	}
	return keys, nil
}

// Stats returns store statistics.
func (m *MemoryStore) Stats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.Size = m.size
	stats.ItemCount = int64(len(m.items))
	stats.calculateHitRate()
	return stats
}

func (m *MemoryStore) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.size = 0
}
