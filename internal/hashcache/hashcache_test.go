package hashcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.jpg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompute(t *testing.T) {
	t.Parallel()

	content := "hello, photokeep"
	path := writeTemp(t, content)

	got, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("Compute() = %s, want %s", got, want)
	}
	if len(got) != 64 {
		t.Errorf("digest length = %d, want full 64 hex chars", len(got))
	}
}

func TestComputeMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Compute(filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Error("Compute() on missing file should error")
	}
}

func TestDigestCaching(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := writeTemp(t, "cache me")
	h := New(nil, nil)

	first, hit, err := h.Digest(ctx, path)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if hit {
		t.Error("first Digest() reported a cache hit")
	}

	second, hit, err := h.Digest(ctx, path)
	if err != nil {
		t.Fatalf("second Digest() error = %v", err)
	}
	if !hit {
		t.Error("second Digest() should hit the memory cache")
	}
	if first != second {
		t.Errorf("digests differ: %s != %s", first, second)
	}

	stats := h.Stats()
	if stats.Queries != 2 || stats.MemoryHits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 2 queries, 1 memory hit, 1 miss", stats)
	}
}

func TestDigestInvalidatedByContentChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := writeTemp(t, "version one")
	h := New(nil, nil)

	first, _, err := h.Digest(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite with different content and a different mtime.
	if err := os.WriteFile(path, []byte("version two!"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	second, hit, err := h.Digest(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("changed file should miss the cache")
	}
	if first == second {
		t.Error("digest unchanged after content change")
	}
}

func TestDigestPersistentPromotion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := writeTemp(t, "promoted")

	persistent := &mapStore{entries: map[Key]string{}}
	h := New(nil, persistent)

	if _, _, err := h.Digest(ctx, path); err != nil {
		t.Fatal(err)
	}
	if len(persistent.entries) != 1 {
		t.Fatalf("persistent store has %d entries, want 1", len(persistent.entries))
	}

	// A fresh hasher over the same persistent store: first lookup is a
	// store hit, second a memory hit after promotion.
	h2 := New(nil, persistent)
	if _, hit, err := h2.Digest(ctx, path); err != nil || !hit {
		t.Fatalf("store-level lookup: hit = %v, err = %v", hit, err)
	}
	if stats := h2.Stats(); stats.StoreHits != 1 {
		t.Errorf("StoreHits = %d, want 1", stats.StoreHits)
	}
	if _, hit, err := h2.Digest(ctx, path); err != nil || !hit {
		t.Fatalf("promoted lookup: hit = %v, err = %v", hit, err)
	}
	if stats := h2.Stats(); stats.MemoryHits != 1 {
		t.Errorf("MemoryHits = %d, want 1", stats.MemoryHits)
	}
}

// mapStore is a test double for the persistent level.
type mapStore struct {
	entries map[Key]string
}

func (m *mapStore) Get(_ context.Context, key Key) (string, bool) {
	digest, ok := m.entries[key]
	return digest, ok
}

func (m *mapStore) Put(_ context.Context, key Key, digest string) {
	m.entries[key] = digest
}

func TestMemoryStoreLRU(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore(2)

	k1 := Key{Path: "a", MtimeNs: 1, Size: 1}
	k2 := Key{Path: "b", MtimeNs: 1, Size: 1}
	k3 := Key{Path: "c", MtimeNs: 1, Size: 1}

	m.Put(ctx, k1, "d1")
	m.Put(ctx, k2, "d2")

	// Touch k1 so k2 becomes the eviction candidate.
	if _, ok := m.Get(ctx, k1); !ok {
		t.Fatal("k1 should be cached")
	}

	m.Put(ctx, k3, "d3")
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	if _, ok := m.Get(ctx, k2); ok {
		t.Error("k2 should have been evicted")
	}
	if _, ok := m.Get(ctx, k1); !ok {
		t.Error("k1 should survive")
	}
	if _, ok := m.Get(ctx, k3); !ok {
		t.Error("k3 should be cached")
	}
}

func TestMemoryStoreClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore(0)
	m.Put(ctx, Key{Path: "a"}, "d")
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
}

func TestHitRate(t *testing.T) {
	t.Parallel()

	if rate := (CacheStats{}).HitRate(); rate != 0 {
		t.Errorf("empty HitRate() = %f, want 0", rate)
	}
	stats := CacheStats{MemoryHits: 3, StoreHits: 1, Misses: 1, Queries: 5}
	if rate := stats.HitRate(); rate != 80 {
		t.Errorf("HitRate() = %f, want 80", rate)
	}
}
