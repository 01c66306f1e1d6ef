package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photokeep/internal/fsutil"
	"photokeep/internal/hashcache"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
	"photokeep/internal/metadata"
	"photokeep/internal/metrics"
)

// placeMode selects what happens to the source file when it is placed
// at its canonical location.
type placeMode int

const (
	// placeCopy leaves the source untouched; user imports never consume
	// the original.
	placeCopy placeMode = iota
	// placeMove relocates the source; reorganization within the library
	// must not duplicate content.
	placeMove
)

// Outcome classifies the result of running one file through the
// placement pipeline.
type Outcome string

const (
	OutcomeImported  Outcome = "imported"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// placeResult is the pipeline result for one file.
type placeResult struct {
	outcome Outcome
	record  *index.PhotoRecord
	reason  string // set when outcome is OutcomeRejected
}

// place runs the full import pipeline for one source file: hash,
// duplicate check, capture time extraction, canonical placement,
// metadata canonicalization, verification, index insert.
//
// The file lands at its canonical path before the index learns about
// it; a crash mid-pipeline leaves an untracked file the next sync
// picks up, never an index record with no file behind it. Any failure
// after placement rolls the file operation back.
func (e *Engine) place(ctx context.Context, src, originalName string, mode placeMode) (placeResult, error) {
	digest, _, err := e.hasher.Digest(ctx, src)
	if err != nil {
		return rejected(src, "io-error"), nil
	}

	if existing, err := e.Store().GetPhotoByHash(ctx, digest); err == nil {
		return placeResult{outcome: OutcomeDuplicate, record: existing}, nil
	} else if !errors.Is(err, index.ErrNotFound) {
		return placeResult{}, err
	}

	taken, _, err := e.extractor.CaptureTime(ctx, src)
	if err != nil {
		return rejected(src, string(metadata.KindOf(err))), nil
	}

	ext := strings.ToLower(filepath.Ext(src))

	relTarget, dup, err := e.resolveTarget(ctx, src, taken, digest, ext)
	if err != nil {
		return placeResult{}, err
	}
	if dup != nil {
		return placeResult{outcome: OutcomeDuplicate, record: dup}, nil
	}
	absTarget := e.abs(relTarget)

	placed := src != absTarget
	if placed {
		switch mode {
		case placeCopy:
			err = fsutil.CopyFile(src, absTarget)
		case placeMove:
			err = fsutil.MoveFile(src, absTarget)
		}
		if err != nil {
			logging.Warn("Failed to place %s at %s: %v", src, relTarget, err)
			return rejected(src, "io-error"), nil
		}
	}

	rollback := func() {
		if !placed {
			return
		}
		var rbErr error
		if mode == placeMove {
			rbErr = fsutil.MoveFile(absTarget, src)
		} else {
			rbErr = fsutil.RemoveIfExists(absTarget)
		}
		if rbErr != nil {
			logging.Error("Rollback of %s failed: %v", absTarget, rbErr)
		}
	}

	// Every placed copy gets the capture time written into it, so the
	// bytes are self-describing and survive outside the index; the
	// read-back verification also catches files whose tags cannot be
	// rewritten cleanly. Formats that cannot carry the tag are placed
	// as-is.
	if !mediatypes.MetadataOpaqueExtensions[ext] {
		var rewriteDup *index.PhotoRecord
		relTarget, digest, rewriteDup, err = e.canonicalizeMetadata(ctx, absTarget, relTarget, taken, digest, ext)
		if err != nil {
			rollback()
			return rejected(src, string(metadata.KindOf(err))), nil
		}
		if rewriteDup != nil {
			rollback()
			return placeResult{outcome: OutcomeDuplicate, record: rewriteDup}, nil
		}
		absTarget = e.abs(relTarget)
	}

	info, err := os.Stat(absTarget)
	if err != nil {
		rollback()
		return rejected(src, "io-error"), nil
	}

	record := &index.PhotoRecord{
		OriginalFilename: originalName,
		CurrentPath:      relTarget,
		DateTaken:        taken,
		ContentHash:      digest,
		FileSize:         info.Size(),
		Kind:             mediatypes.GetKind(ext),
	}
	if record.Kind == mediatypes.KindPhoto {
		if w, h, dimErr := e.extractor.Dimensions(ctx, absTarget); dimErr == nil {
			record.Width, record.Height = w, h
		}
	}

	if err := e.Store().InsertPhoto(ctx, record); err != nil {
		rollback()
		if index.IsUniqueConstraint(err) {
			existing, lookErr := e.Store().GetPhotoByHash(ctx, digest)
			if lookErr == nil {
				return placeResult{outcome: OutcomeDuplicate, record: existing}, nil
			}
		}
		return placeResult{}, fmt.Errorf("failed to index %s: %w", relTarget, err)
	}

	return placeResult{outcome: OutcomeImported, record: record}, nil
}

func rejected(path, reason string) placeResult {
	metrics.ImportRejectionsTotal.WithLabelValues(reason).Inc()
	return placeResult{outcome: OutcomeRejected, reason: reason}
}

// resolveTarget picks the canonical relative path for a file, bumping
// the collision suffix past occupied names. An occupant holding the
// same bytes makes the source a duplicate instead.
func (e *Engine) resolveTarget(ctx context.Context, src string, taken time.Time, digest, ext string) (string, *index.PhotoRecord, error) {
	for suffix := 0; ; suffix++ {
		rel := library.CanonicalPath(taken, digest, ext, suffix)
		abs := e.abs(rel)

		if abs == src {
			return rel, nil, nil
		}
		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			return rel, nil, nil
		}

		occupant, _, err := e.hasher.Digest(ctx, abs)
		if err != nil {
			// Unreadable occupant: treat the name as taken and move on.
			logging.Warn("Cannot hash occupant %s: %v", rel, err)
			continue
		}
		if occupant == digest {
			if rec, recErr := e.Store().GetPhotoByPath(ctx, rel); recErr == nil {
				return "", rec, nil
			}
			// Same bytes already on disk but untracked; the sync that
			// follows will index the occupant. The source is a duplicate
			// either way.
			return "", &index.PhotoRecord{CurrentPath: rel, ContentHash: digest}, nil
		}
	}
}

// canonicalizeMetadata writes the capture time into the placed file,
// then re-hashes it; the rewrite changes the bytes, so the digest and
// canonical name both change with it.
//
// A non-nil dup means the rewritten bytes reproduce content the
// library already holds. Tag writes are deterministic, so this is the
// normal outcome of re-importing a source whose previous import got
// the same time written into its copy: the raw source digest misses
// the early duplicate check, and only the post-write digest matches.
func (e *Engine) canonicalizeMetadata(ctx context.Context, absTarget, relTarget string, taken time.Time, oldDigest, ext string) (rel, digest string, dup *index.PhotoRecord, err error) {
	if err := e.writer.WriteCaptureTime(ctx, absTarget, taken); err != nil {
		return "", "", nil, err
	}

	newDigest, err := hashcache.Compute(absTarget)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to re-hash after metadata write: %w", err)
	}
	if newDigest == oldDigest {
		return relTarget, oldDigest, nil, nil
	}

	newRel, dup, err := e.resolveTarget(ctx, absTarget, taken, newDigest, ext)
	if err != nil {
		return "", "", nil, err
	}
	if dup != nil {
		return "", "", dup, nil
	}

	if newRel != relTarget {
		if err := fsutil.MoveFile(absTarget, e.abs(newRel)); err != nil {
			return "", "", nil, fmt.Errorf("failed to rename after metadata write: %w", err)
		}
	}
	return newRel, newDigest, nil, nil
}

// ImportSummary is the result of an ImportFiles run. ManifestPath is
// set when the run rejected anything; the manifest lists the rejected
// sources for later remediation with CopyRejected.
type ImportSummary struct {
	Imported     int           `json:"imported"`
	Duplicates   int           `json:"duplicates"`
	Rejected     int           `json:"rejected"`
	ManifestPath string        `json:"manifestPath,omitempty"`
	Duration     time.Duration `json:"-"`
}

// ImportFiles copies external media files into the library. sources
// may name files or directories; directories are walked for media
// files. Source files are never modified or removed. The sink, when
// non-nil, is closed when the operation finishes.
func (e *Engine) ImportFiles(ctx context.Context, sources []string, sink *Sink) (summary ImportSummary, err error) {
	release, err := e.beginOp()
	if err != nil {
		sink.fail(err)
		sink.close()
		return ImportSummary{}, err
	}
	defer release()
	defer sink.close()

	start := time.Now()

	files, err := collectImportSources(sources)
	if err != nil {
		sink.fail(err)
		return ImportSummary{}, err
	}

	// The rejection manifest is created lazily: clean runs leave no
	// empty files behind.
	var man *manifest
	defer func() {
		if man != nil {
			summary.ManifestPath = man.close()
		}
	}()

	sink.phase("importing", len(files))
	for i, src := range files {
		if err := ctx.Err(); err != nil {
			sink.fail(err)
			return summary, err
		}

		result, err := e.place(ctx, src, filepath.Base(src), placeCopy)
		if err != nil {
			sink.fail(err)
			return summary, err
		}

		metrics.ImportOutcomesTotal.WithLabelValues(string(result.outcome)).Inc()
		switch result.outcome {
		case OutcomeImported:
			summary.Imported++
			logging.Info("Imported %s as %s", src, result.record.CurrentPath)
		case OutcomeDuplicate:
			summary.Duplicates++
			logging.Info("Skipped duplicate %s (already at %s)", src, result.record.CurrentPath)
		case OutcomeRejected:
			summary.Rejected++
			sink.rejected(src, result.reason)
			if man == nil {
				var manErr error
				if man, manErr = newManifest(e.cfg.LogsDir(), "import"); manErr != nil {
					logging.Warn("Cannot create import manifest: %v", manErr)
				}
			}
			if man != nil {
				man.record("reject", src, "", result.reason)
			}
		}
		sink.progress("importing", i+1, len(files))
	}

	if man != nil {
		summary.ManifestPath = man.close()
		man = nil
	}

	summary.Duration = time.Since(start)
	metrics.SyncRunsTotal.WithLabelValues("import").Inc()
	metrics.SyncLastRunTimestamp.WithLabelValues("import").SetToCurrentTime()
	metrics.SyncLastRunDuration.WithLabelValues("import").Set(summary.Duration.Seconds())

	sink.complete(summary)
	logging.Info("Import finished: %d imported, %d duplicates, %d rejected in %s",
		summary.Imported, summary.Duplicates, summary.Rejected, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func collectImportSources(sources []string) ([]string, error) {
	var files []string
	for _, src := range sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve source %s: %w", src, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot read source %s: %w", src, err)
		}

		if !info.IsDir() {
			files = append(files, abs)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != abs {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if mediatypes.IsMediaFile(strings.ToLower(filepath.Ext(path))) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk source %s: %w", src, err)
		}
	}
	return files, nil
}
