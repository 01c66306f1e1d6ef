package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photokeep/internal/config"
	"photokeep/internal/fsutil"
	"photokeep/internal/hashcache"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
	"photokeep/internal/metadata"
	"photokeep/internal/metrics"
)

// Rebuild phase names.
const (
	PhaseIndexing = "indexing"
	PhaseSwapping = "swapping"
)

// RebuildSummary is the result of a full index rebuild.
type RebuildSummary struct {
	Indexed    int           `json:"indexed"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	BackupPath string        `json:"backupPath"`
	Duration   time.Duration `json:"-"`
}

// Rebuild reconstructs the index from the filesystem alone. The new
// index is built in a shadow store next to the live one; the live
// index keeps serving reads for the whole build and is swapped out in
// a final rename step. The previous index file is kept as a backup.
//
// A crash at any point before the swap leaves the live index untouched
// plus a stale shadow file the next rebuild removes. There is no
// resume: a rebuild interrupted mid-build starts over.
func (e *Engine) Rebuild(ctx context.Context, sink *Sink) (RebuildSummary, error) {
	release, err := e.beginOp()
	if err != nil {
		sink.fail(err)
		sink.close()
		return RebuildSummary{}, err
	}
	defer release()
	defer sink.close()

	start := time.Now()
	var summary RebuildSummary

	shadowPath := filepath.Join(e.cfg.DataDir, "."+config.IndexFileName+".rebuilding")
	removeStoreFiles(shadowPath)

	shadow, err := index.Open(ctx, shadowPath)
	if err != nil {
		sink.fail(err)
		return summary, fmt.Errorf("failed to create shadow index: %w", err)
	}
	shadowOpen := true
	defer func() {
		if shadowOpen {
			if closeErr := shadow.Close(); closeErr != nil {
				logging.Warn("Failed to close shadow index: %v", closeErr)
			}
			removeStoreFiles(shadowPath)
		}
	}()

	found, err := library.Walk(e.cfg.LibraryDir)
	if err != nil {
		sink.fail(err)
		return summary, err
	}

	// Phase 1: populate the shadow from the files. The inserts go into
	// one batch transaction on the shadow store. The old hash cache
	// stays valid because entries key on file state, not index
	// generation; hits here avoid re-reading unchanged content.
	sink.phase(PhaseIndexing, len(found))
	e.prewarmDigests(ctx, found)

	tx, err := shadow.BeginBatch()
	if err != nil {
		sink.fail(err)
		return summary, fmt.Errorf("failed to start shadow batch: %w", err)
	}

	seen := make(map[string]string, len(found))
	var seeds []cacheSeed
	var batchErr error
	for i, entry := range found {
		if batchErr = ctx.Err(); batchErr != nil {
			break
		}

		outcome, seed, err := e.rebuildOne(ctx, shadow, tx, entry, seen)
		if err != nil {
			batchErr = err
			break
		}
		if seed != nil {
			seeds = append(seeds, *seed)
		}
		switch outcome.outcome {
		case OutcomeImported:
			summary.Indexed++
		case OutcomeDuplicate:
			summary.Duplicates++
			logging.Warn("Duplicate content at %s and %s, indexing only the first",
				outcome.record.CurrentPath, entry.RelPath)
		case OutcomeRejected:
			summary.Rejected++
			sink.rejected(entry.RelPath, outcome.reason)
		}
		sink.progress(PhaseIndexing, i+1, len(found))
	}
	if err := shadow.EndBatch(tx, batchErr); err != nil {
		sink.fail(err)
		return summary, err
	}

	// Seed the shadow's cache table after the batch commits, so the
	// swap does not cold-start the persistent cache level.
	shadowCache := hashcache.NewPersistentStore(shadow)
	for _, seed := range seeds {
		shadowCache.Put(ctx, seed.key, seed.digest)
	}

	if err := shadow.Close(); err != nil {
		sink.fail(err)
		return summary, fmt.Errorf("failed to close shadow index: %w", err)
	}
	shadowOpen = false

	// Phase 2: swap. The live store closes, its file moves to the
	// backup directory, and the shadow renames into its place. Both
	// renames stay within the data directory, so each is atomic.
	sink.phase(PhaseSwapping, 0)
	backupPath := filepath.Join(e.cfg.BackupsDir(),
		fmt.Sprintf("index_%s.db", start.Format("20060102-150405")))

	e.storeMu.Lock()
	swapErr := func() error {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("failed to close live index: %w", err)
		}
		livePath := e.cfg.IndexPath()
		if err := os.Rename(livePath, backupPath); err != nil {
			return fmt.Errorf("failed to back up live index: %w", err)
		}
		removeStoreFiles(livePath)
		if err := os.Rename(shadowPath, livePath); err != nil {
			return fmt.Errorf("failed to install rebuilt index: %w", err)
		}

		next, err := index.Open(ctx, livePath)
		if err != nil {
			return fmt.Errorf("failed to reopen rebuilt index: %w", err)
		}
		e.store = next
		e.hasher = hashcache.New(nil, hashcache.NewPersistentStore(next))
		return nil
	}()
	e.storeMu.Unlock()
	if swapErr != nil {
		sink.fail(swapErr)
		return summary, swapErr
	}
	summary.BackupPath = backupPath

	if _, err := library.RemoveEmptyFolders(e.cfg.LibraryDir, config.ProtectedDirNames()); err != nil {
		logging.Warn("Janitor after rebuild failed: %v", err)
	}

	summary.Duration = time.Since(start)
	e.recordSyncRun(summary.Duration)
	metrics.SyncRunsTotal.WithLabelValues("rebuild").Inc()
	metrics.SyncLastRunTimestamp.WithLabelValues("rebuild").SetToCurrentTime()
	metrics.SyncLastRunDuration.WithLabelValues("rebuild").Set(summary.Duration.Seconds())

	sink.complete(summary)
	logging.Info("Rebuild finished: %d indexed, %d duplicates, %d rejected in %s (backup at %s)",
		summary.Indexed, summary.Duplicates, summary.Rejected,
		summary.Duration.Round(time.Millisecond), backupPath)
	return summary, nil
}

// cacheSeed is a hash cache entry destined for the shadow store once
// its batch commits.
type cacheSeed struct {
	key    hashcache.Key
	digest string
}

// rebuildOne indexes one walked file into the shadow store's open
// batch. seen maps digests to the first path that claimed them within
// this rebuild.
func (e *Engine) rebuildOne(ctx context.Context, shadow *index.Store, tx *sql.Tx, entry library.Entry, seen map[string]string) (placeResult, *cacheSeed, error) {
	abs := e.abs(entry.RelPath)

	digest, _, err := e.hasher.Digest(ctx, abs)
	if err != nil {
		logging.Warn("Cannot hash %s: %v", entry.RelPath, err)
		return rejected(entry.RelPath, "io-error"), nil, nil
	}

	if first, dup := seen[digest]; dup {
		return placeResult{outcome: OutcomeDuplicate, record: &index.PhotoRecord{
			CurrentPath: first, ContentHash: digest,
		}}, nil, nil
	}

	taken, _, err := e.extractor.CaptureTime(ctx, abs)
	if err != nil {
		return rejected(entry.RelPath, string(metadata.KindOf(err))), nil, nil
	}

	ext := strings.ToLower(filepath.Ext(entry.RelPath))
	record := &index.PhotoRecord{
		OriginalFilename: filepath.Base(entry.RelPath),
		CurrentPath:      entry.RelPath,
		DateTaken:        taken,
		ContentHash:      digest,
		FileSize:         entry.Size,
		Kind:             mediatypes.GetKind(ext),
	}
	if record.Kind == mediatypes.KindPhoto {
		if w, h, dimErr := e.extractor.Dimensions(ctx, abs); dimErr == nil {
			record.Width, record.Height = w, h
		}
	}

	if err := shadow.InsertPhotoTx(tx, record); err != nil {
		return placeResult{}, nil, fmt.Errorf("failed to index %s into shadow: %w", entry.RelPath, err)
	}
	seen[digest] = entry.RelPath

	seed := &cacheSeed{
		key:    hashcache.Key{Path: abs, MtimeNs: entry.MtimeNs, Size: entry.Size},
		digest: digest,
	}
	return placeResult{outcome: OutcomeImported, record: record}, seed, nil
}

// removeStoreFiles deletes a SQLite database file plus its WAL
// sidecars, ignoring absence.
func removeStoreFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := fsutil.RemoveIfExists(p); err != nil {
			logging.Warn("Failed to remove %s: %v", p, err)
		}
	}
}
