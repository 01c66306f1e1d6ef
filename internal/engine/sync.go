package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"photokeep/internal/config"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
	"photokeep/internal/metadata"
	"photokeep/internal/metrics"
	"photokeep/internal/workers"
)

// Sync phase names, in execution order.
const (
	PhaseRemovingDeleted = "removing_deleted"
	PhaseAddingUntracked = "adding_untracked"
	PhaseRemovingEmpty   = "removing_empty"
)

// SyncSummary is the result of one incremental sync.
type SyncSummary struct {
	GhostsRemoved  int           `json:"ghostsRemoved"`
	MolesIndexed   int           `json:"molesIndexed"`
	Duplicates     int           `json:"duplicates"`
	Rejected       int           `json:"rejected"`
	FoldersRemoved int           `json:"foldersRemoved"`
	Duration       time.Duration `json:"-"`
}

// Sync reconciles the index with the filesystem: records whose file is
// gone are dropped, untracked files are indexed in place, and empty
// folders are pruned. Files are never moved; reorganization belongs to
// Terraform. The sink, when non-nil, is closed when the operation
// finishes.
func (e *Engine) Sync(ctx context.Context, sink *Sink) (SyncSummary, error) {
	release, err := e.beginOp()
	if err != nil {
		sink.fail(err)
		sink.close()
		return SyncSummary{}, err
	}
	defer release()
	defer sink.close()

	start := time.Now()
	var summary SyncSummary

	indexed, err := e.Store().AllPathIDs(ctx)
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	found, err := library.Walk(e.cfg.LibraryDir)
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	plan := library.Reconcile(indexed, found)

	if plan.InSync() {
		logging.Debug("Library already in sync (%d items)", len(indexed))
	}
	if logging.IsDebugEnabled() {
		for path := range plan.Ghosts {
			logging.Debug("Missing on disk: %s", path)
		}
		for _, mole := range plan.Moles {
			logging.Debug("Untracked on disk: %s", mole.RelPath)
		}
	}

	// Phase 1: drop records whose backing file is gone. The file is the
	// source of truth; a record without bytes is just noise. The
	// removals commit as one batch.
	sink.phase(PhaseRemovingDeleted, len(plan.Ghosts))
	if len(plan.Ghosts) > 0 {
		tx, err := e.Store().BeginBatch()
		if err != nil {
			sink.fail(err)
			return summary, err
		}

		var delErr error
		i := 0
		for path, id := range plan.Ghosts {
			if delErr = ctx.Err(); delErr != nil {
				break
			}
			if delErr = e.Store().DeletePhotoTx(tx, id); delErr != nil {
				break
			}
			logging.Info("Removed index record for missing file %s", path)
			i++
			sink.progress(PhaseRemovingDeleted, i, len(plan.Ghosts))
		}
		if err := e.Store().EndBatch(tx, delErr); err != nil {
			sink.fail(err)
			return summary, err
		}

		summary.GhostsRemoved = len(plan.Ghosts)
		metrics.SyncGhostsRemoved.Add(float64(len(plan.Ghosts)))

		// Cache cleanup after the commit; the batch holds the write lock.
		for path := range plan.Ghosts {
			if err := e.Store().CacheDeletePath(ctx, e.abs(path)); err != nil {
				logging.Warn("Failed to drop cache entries for %s: %v", path, err)
			}
		}
	}

	// Phase 2: index untracked files where they are. Hashing dominates
	// the cost, so digests are computed in parallel ahead of the serial
	// index writes.
	sink.phase(PhaseAddingUntracked, len(plan.Moles))
	e.prewarmDigests(ctx, plan.Moles)
	for i, mole := range plan.Moles {
		if err := ctx.Err(); err != nil {
			sink.fail(err)
			return summary, err
		}

		outcome, err := e.indexInPlace(ctx, mole)
		if err != nil {
			sink.fail(err)
			return summary, err
		}
		switch outcome.outcome {
		case OutcomeImported:
			summary.MolesIndexed++
			metrics.SyncMolesIndexed.Inc()
		case OutcomeDuplicate:
			summary.Duplicates++
			logging.Warn("Untracked file %s duplicates %s, leaving in place",
				mole.RelPath, outcome.record.CurrentPath)
		case OutcomeRejected:
			summary.Rejected++
			sink.rejected(mole.RelPath, outcome.reason)
		}
		sink.progress(PhaseAddingUntracked, i+1, len(plan.Moles))
	}

	// Phase 3: prune folders the removals emptied.
	sink.phase(PhaseRemovingEmpty, 0)
	removed, err := library.RemoveEmptyFolders(e.cfg.LibraryDir, config.ProtectedDirNames())
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	summary.FoldersRemoved = removed

	summary.Duration = time.Since(start)
	e.recordSyncRun(summary.Duration)
	metrics.SyncRunsTotal.WithLabelValues("incremental").Inc()
	metrics.SyncLastRunTimestamp.WithLabelValues("incremental").SetToCurrentTime()
	metrics.SyncLastRunDuration.WithLabelValues("incremental").Set(summary.Duration.Seconds())

	sink.complete(summary)
	logging.Info("Sync finished: -%d ghosts, +%d files, %d duplicates, %d rejected, %d folders pruned in %s",
		summary.GhostsRemoved, summary.MolesIndexed, summary.Duplicates, summary.Rejected,
		summary.FoldersRemoved, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// prewarmDigests hashes entries concurrently so the serial indexing
// loop hits the cache. Errors are deliberately ignored here; the loop
// re-reports them per file.
func (e *Engine) prewarmDigests(ctx context.Context, entries []library.Entry) {
	if len(entries) < 2 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers.ForStorage(e.cfg.Workers, e.cfg.NetworkStorage))
	for _, entry := range entries {
		abs := e.abs(entry.RelPath)
		g.Go(func() error {
			_, _, _ = e.hasher.Digest(gctx, abs)
			return nil
		})
	}
	_ = g.Wait()
}

// indexInPlace adds one untracked file to the index at its current
// location.
func (e *Engine) indexInPlace(ctx context.Context, entry library.Entry) (placeResult, error) {
	abs := e.abs(entry.RelPath)

	digest, _, err := e.hasher.Digest(ctx, abs)
	if err != nil {
		logging.Warn("Cannot hash %s: %v", entry.RelPath, err)
		return rejected(entry.RelPath, "io-error"), nil
	}

	if existing, err := e.Store().GetPhotoByHash(ctx, digest); err == nil {
		return placeResult{outcome: OutcomeDuplicate, record: existing}, nil
	} else if !errors.Is(err, index.ErrNotFound) {
		return placeResult{}, err
	}

	taken, _, err := e.extractor.CaptureTime(ctx, abs)
	if err != nil {
		return rejected(entry.RelPath, string(metadata.KindOf(err))), nil
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

	if err := e.Store().InsertPhoto(ctx, record); err != nil {
		if index.IsUniqueConstraint(err) {
			if existing, lookErr := e.Store().GetPhotoByHash(ctx, digest); lookErr == nil {
				return placeResult{outcome: OutcomeDuplicate, record: existing}, nil
			}
		}
		return placeResult{}, err
	}

	return placeResult{outcome: OutcomeImported, record: record}, nil
}
