package hashcache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"photokeep/internal/index"
	"photokeep/internal/logging"
)

// Key identifies one file state. Any change to the path, modification
// time or size produces a different key; entries for old states are
// never hit again and need no explicit invalidation.
type Key struct {
	Path    string
	MtimeNs int64
	Size    int64
}

// Store maps file states to content digests. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key Key) (digest string, ok bool)
	Put(ctx context.Context, key Key, digest string)
}

// DefaultMemoryEntries is the default in-memory LRU capacity.
const DefaultMemoryEntries = 1000

// MemoryStore is a fixed-capacity in-memory LRU store.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*list.Element
	order    *list.List
}

type memoryEntry struct {
	key    Key
	digest string
}

// NewMemoryStore creates an in-memory LRU store. capacity <= 0 uses
// DefaultMemoryEntries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryEntries
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached digest and marks the entry recently used.
func (m *MemoryStore) Get(_ context.Context, key Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return "", false
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).digest, true
}

// Put stores a digest, evicting the least recently used entry when
// over capacity.
func (m *MemoryStore) Put(_ context.Context, key Key, digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		elem.Value.(*memoryEntry).digest = digest
		m.order.MoveToFront(elem)
		return
	}

	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, digest: digest})

	if m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
}

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Clear drops all entries.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[Key]*list.Element)
	m.order.Init()
}

// PersistentStore backs the cache with the index store's hash_cache
// table so digests survive restarts. Store errors degrade to cache
// misses; hashing again is always safe.
type PersistentStore struct {
	store *index.Store
}

// NewPersistentStore wraps an index store.
func NewPersistentStore(store *index.Store) *PersistentStore {
	return &PersistentStore{store: store}
}

// Get looks the digest up in the hash_cache table.
func (p *PersistentStore) Get(ctx context.Context, key Key) (string, bool) {
	digest, err := p.store.CacheGet(ctx, key.Path, key.MtimeNs, key.Size)
	if err != nil {
		if !errors.Is(err, index.ErrNotFound) {
			logging.Warn("hash cache lookup failed for %s: %v", key.Path, err)
		}
		return "", false
	}
	return digest, true
}

// Put writes the digest into the hash_cache table.
func (p *PersistentStore) Put(ctx context.Context, key Key, digest string) {
	err := p.store.CachePut(ctx, index.CacheEntry{
		FilePath:    key.Path,
		MtimeNs:     key.MtimeNs,
		FileSize:    key.Size,
		ContentHash: digest,
		CachedAt:    time.Now(),
	})
	if err != nil {
		logging.Warn("hash cache store failed for %s: %v", key.Path, err)
	}
}
