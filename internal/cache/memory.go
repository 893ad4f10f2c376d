package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/storechat/content-pipeline/internal/metrics"
)

// MemoryBackend is the in-process fallback store. It mirrors the external
// cache's semantics: native TTL expiry plus LRU eviction bounded by a
// maximum entry count. The LRU order lives in an auxiliary list keyed by
// last access, separate from the payload map, so eviction never touches
// payload bytes.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend builds a MemoryBackend bounded to maxEntries.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryBackend{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the unexpired value for key, promoting it to most recently
// used on a hit. Expired entries are removed lazily.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expiresAt) {
		m.removeLocked(elem)
		return nil, false, nil
	}
	m.order.MoveToFront(elem)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Set writes the value, evicting least-recently-used entries until the
// store is back under its bound.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	expiresAt := m.now().Add(ttl)

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	elem := m.order.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	m.entries[key] = elem

	for len(m.entries) > m.maxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		metrics.ObserveCacheEviction()
	}
	return nil
}

// DeletePattern removes entries whose keys match the glob pattern.
func (m *MemoryBackend) DeletePattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, elem := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			m.removeLocked(elem)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-process store.
func (m *MemoryBackend) Close() error {
	return nil
}

// Len reports the number of live entries, counting expired-but-unswept ones.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryBackend) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	m.order.Remove(elem)
	delete(m.entries, entry.key)
}
