package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"photokeep/internal/config"
	"photokeep/internal/hashcache"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/metadata"
	"photokeep/internal/metrics"
)

// ErrBusy is returned when a mutating operation is requested while
// another one is running. Mutating operations never queue: the caller
// retries once the running one finishes.
var ErrBusy = errors.New("engine: another library operation is already running")

// Engine orchestrates all library operations. At most one mutating
// operation (sync, import, rebuild, terraform, trash mutation) runs at
// a time; read-only queries proceed concurrently.
type Engine struct {
	cfg *config.Config

	// storeMu guards the store pointer itself, which the rebuild
	// operation swaps. The old store is closed during the swap, so
	// callers must fetch the store per call through Store() and never
	// hold the pointer across operations; a reader caught in the swap
	// window sees a closed-store error and retries.
	storeMu sync.RWMutex
	store   *index.Store
	hasher  *hashcache.Hasher

	extractor metadata.Extractor
	writer    metadata.Writer

	// opMu serializes mutating operations. TryLock, never Lock:
	// concurrency conflicts are reported, not queued.
	opMu sync.Mutex

	// Last completed sync-family run, reported in Stats.
	lastSyncMu       sync.Mutex
	lastSyncTime     time.Time
	lastSyncDuration time.Duration
}

// New creates an Engine over an opened index store.
func New(cfg *config.Config, store *index.Store, extractor metadata.Extractor, writer metadata.Writer) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		hasher:    hashcache.New(nil, hashcache.NewPersistentStore(store)),
		extractor: extractor,
		writer:    writer,
	}
}

// Open opens the index store for cfg and builds an Engine with the
// external-tool metadata implementations.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	store, err := index.Open(ctx, cfg.IndexPath())
	if err != nil {
		return nil, err
	}
	timeout := cfg.ToolTimeoutDuration()
	return New(cfg, store, metadata.NewToolExtractor(timeout), metadata.NewToolWriter(timeout)), nil
}

// Close closes the underlying index store.
func (e *Engine) Close() error {
	return e.Store().Close()
}

// Store returns the current index store.
func (e *Engine) Store() *index.Store {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	return e.store
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// CacheStats returns hash cache counters since process start.
func (e *Engine) CacheStats() hashcache.CacheStats {
	return e.hasher.Stats()
}

// beginOp acquires the mutating-operation slot. The returned release
// func must be called exactly once.
func (e *Engine) beginOp() (func(), error) {
	if !e.opMu.TryLock() {
		return nil, ErrBusy
	}
	metrics.SyncOperationRunning.Set(1)
	return func() {
		metrics.SyncOperationRunning.Set(0)
		e.opMu.Unlock()
	}, nil
}

// abs resolves a library-relative path to an absolute one.
func (e *Engine) abs(rel string) string {
	return filepath.Join(e.cfg.LibraryDir, rel)
}

// ScanResult is the read-only difference between index and disk.
type ScanResult struct {
	Ghosts  int  `json:"ghosts"`
	Moles   int  `json:"moles"`
	Indexed int  `json:"indexed"`
	OnDisk  int  `json:"onDisk"`
	InSync  bool `json:"inSync"`
}

// Scan computes the index-versus-disk difference without mutating
// anything. No content is hashed: this is the cheap pre-flight used by
// the change poller and the scan endpoint.
func (e *Engine) Scan(ctx context.Context) (ScanResult, error) {
	indexed, err := e.Store().AllPathIDs(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	found, err := library.Walk(e.cfg.LibraryDir)
	if err != nil {
		return ScanResult{}, err
	}

	plan := library.Reconcile(indexed, found)
	return ScanResult{
		Ghosts:  len(plan.Ghosts),
		Moles:   len(plan.Moles),
		Indexed: len(indexed),
		OnDisk:  len(found),
		InSync:  plan.InSync(),
	}, nil
}

// LibraryStats combines index statistics with hash cache counters.
type LibraryStats struct {
	Index index.Stats          `json:"index"`
	Cache hashcache.CacheStats `json:"cache"`
}

// Stats returns library and cache statistics.
func (e *Engine) Stats(ctx context.Context) (LibraryStats, error) {
	idx, err := e.Store().CalculateStats(ctx)
	if err != nil {
		return LibraryStats{}, err
	}

	e.lastSyncMu.Lock()
	if !e.lastSyncTime.IsZero() {
		idx.LastSynced = e.lastSyncTime
		idx.SyncDuration = e.lastSyncDuration.Round(time.Millisecond).String()
	}
	e.lastSyncMu.Unlock()

	return LibraryStats{Index: idx, Cache: e.hasher.Stats()}, nil
}

// recordSyncRun notes the completion of a sync-family operation.
func (e *Engine) recordSyncRun(d time.Duration) {
	e.lastSyncMu.Lock()
	e.lastSyncTime = time.Now()
	e.lastSyncDuration = d
	e.lastSyncMu.Unlock()
}
