package hashcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"photokeep/internal/fsutil"
	"photokeep/internal/logging"
	"photokeep/internal/metrics"
)

// chunkSize is the read size for hashing. 1 MiB keeps syscall count
// low on network storage.
const chunkSize = 1 << 20

// CacheStats counts cache outcomes since process start.
type CacheStats struct {
	MemoryHits int64 `json:"memoryHits"`
	StoreHits  int64 `json:"storeHits"`
	Misses     int64 `json:"misses"`
	Queries    int64 `json:"queries"`
}

// HitRate returns the fraction of queries served from either cache
// level, as a percentage.
func (s CacheStats) HitRate() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.StoreHits) / float64(s.Queries) * 100
}

// Hasher computes content digests with two-level caching: an
// in-memory LRU in front of an optional persistent store.
type Hasher struct {
	memory     *MemoryStore
	persistent Store

	memoryHits atomic.Int64
	storeHits  atomic.Int64
	misses     atomic.Int64
	queries    atomic.Int64
}

// New creates a Hasher. persistent may be nil for a memory-only cache.
func New(memory *MemoryStore, persistent Store) *Hasher {
	if memory == nil {
		memory = NewMemoryStore(0)
	}
	return &Hasher{memory: memory, persistent: persistent}
}

// Digest returns the SHA-256 digest of the file at path (full 64-char
// hex, never truncated) and whether it was served from cache.
//
// The file is stat'd first; if the (path, mtime, size) state is
// cached, the content is not read at all. On a miss the digest is
// computed and stored keyed by a post-read stat, so a file changing
// between stat and read costs at most one redundant re-hash later.
func (h *Hasher) Digest(ctx context.Context, path string) (string, bool, error) {
	h.queries.Add(1)

	info, err := fsutil.StatWithRetry(path, fsutil.DefaultRetryConfig())
	if err != nil {
		return "", false, fmt.Errorf("cannot stat file %s: %w", path, err)
	}

	key := Key{Path: path, MtimeNs: info.ModTime().UnixNano(), Size: info.Size()}

	if digest, ok := h.memory.Get(ctx, key); ok {
		h.memoryHits.Add(1)
		metrics.HashCacheHitsTotal.WithLabelValues("memory").Inc()
		return digest, true, nil
	}

	if h.persistent != nil {
		if digest, ok := h.persistent.Get(ctx, key); ok {
			h.memory.Put(ctx, key, digest)
			h.storeHits.Add(1)
			metrics.HashCacheHitsTotal.WithLabelValues("store").Inc()
			return digest, true, nil
		}
	}

	digest, err := Compute(path)
	if err != nil {
		return "", false, err
	}

	h.misses.Add(1)
	metrics.HashCacheMissesTotal.Inc()

	// Key by the file state after the read. If the file changed while
	// we were reading, the pre-read key would pin a digest that no
	// longer matches the bytes.
	postInfo, statErr := os.Stat(path)
	if statErr == nil {
		key = Key{Path: path, MtimeNs: postInfo.ModTime().UnixNano(), Size: postInfo.Size()}
	} else {
		logging.Debug("post-read stat failed for %s, caching under pre-read state: %v", path, statErr)
	}

	h.memory.Put(ctx, key, digest)
	if h.persistent != nil {
		h.persistent.Put(ctx, key, digest)
	}

	return digest, false, nil
}

// Stats returns a snapshot of the cache counters.
func (h *Hasher) Stats() CacheStats {
	return CacheStats{
		MemoryHits: h.memoryHits.Load(),
		StoreHits:  h.storeHits.Load(),
		Misses:     h.misses.Load(),
		Queries:    h.queries.Load(),
	}
}

// ClearMemory drops the in-memory level, keeping persisted entries.
func (h *Hasher) ClearMemory() {
	h.memory.Clear()
}

// Compute hashes the file at path without touching any cache. Always
// reads the full content in chunkSize blocks.
func Compute(path string) (string, error) {
	start := time.Now()

	f, err := fsutil.OpenWithRetry(path, fsutil.DefaultRetryConfig())
	if err != nil {
		return "", fmt.Errorf("cannot open file for hashing: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logging.Warn("failed to close %s after hashing: %v", path, closeErr)
		}
	}()

	hash := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hash, f, buf); err != nil {
		return "", fmt.Errorf("error hashing file %s: %w", path, err)
	}

	metrics.HashComputationsTotal.Inc()
	metrics.HashDuration.Observe(time.Since(start).Seconds())

	return hex.EncodeToString(hash.Sum(nil)), nil
}
