package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"photokeep/internal/config"
	"photokeep/internal/fsutil"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/logging"
	"photokeep/internal/metrics"
)

// Terraform phase names.
const (
	PhaseQuarantining = "quarantining"
	PhaseReorganizing = "reorganizing"
)

// quarantineDirName is the directory under the data dir that receives
// files terraform removes from the library tree. Nothing is ever
// deleted: every displaced file is recoverable from here.
const quarantineDirName = "quarantine"

// TerraformSummary is the result of a terraform run.
type TerraformSummary struct {
	Moved            int           `json:"moved"`
	AlreadyCanonical int           `json:"alreadyCanonical"`
	Imported         int           `json:"imported"`
	NonMedia         int           `json:"nonMedia"`
	Duplicates       int           `json:"duplicates"`
	Rejected         int           `json:"rejected"`
	GhostsRemoved    int           `json:"ghostsRemoved"`
	FoldersRemoved   int           `json:"foldersRemoved"`
	ManifestPath     string        `json:"manifestPath"`
	Duration         time.Duration `json:"-"`
}

// ManifestEntry is one line of an operation manifest (terraform and
// import both write them). The manifest is append-only JSONL so a run
// interrupted at any point still leaves a complete record of
// everything it already did. "reject" entries carry the absolute
// source path, since the rejected file was left where it was; the
// other actions carry library-relative sources.
type ManifestEntry struct {
	Time   time.Time `json:"time"`
	Action string    `json:"action"` // "quarantine", "move", "import", "reject"
	Source string    `json:"source"`
	Dest   string    `json:"dest,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type manifest struct {
	f   *os.File
	enc *json.Encoder
}

func newManifest(logsDir, op string) (*manifest, error) {
	name := fmt.Sprintf("%s_%s_%s.jsonl",
		op, time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	f, err := os.Create(filepath.Join(logsDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s manifest: %w", op, err)
	}
	return &manifest{f: f, enc: json.NewEncoder(f)}, nil
}

func (m *manifest) record(action, source, dest, reason string) {
	err := m.enc.Encode(ManifestEntry{
		Time: time.Now(), Action: action, Source: source, Dest: dest, Reason: reason,
	})
	if err != nil {
		logging.Warn("Failed to write manifest entry for %s: %v", source, err)
	}
}

func (m *manifest) close() string {
	path := m.f.Name()
	if err := m.f.Close(); err != nil {
		logging.Warn("Failed to close manifest %s: %v", path, err)
	}
	return path
}

// Terraform rewrites the on-disk layout into the canonical date tree.
// Non-media files are quarantined first, then every media file is
// moved (not copied) to its canonical location, getting indexed and
// metadata-canonicalized on the way. Files that cannot be processed
// are quarantined with their classified reason, never deleted. Every
// displacement is logged to a JSONL manifest. The sink, when non-nil,
// is closed when the operation finishes.
func (e *Engine) Terraform(ctx context.Context, sink *Sink) (TerraformSummary, error) {
	release, err := e.beginOp()
	if err != nil {
		sink.fail(err)
		sink.close()
		return TerraformSummary{}, err
	}
	defer release()
	defer sink.close()

	start := time.Now()
	var summary TerraformSummary

	man, err := newManifest(e.cfg.LogsDir(), "terraform")
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	defer func() { summary.ManifestPath = man.close() }()

	quarantineRoot := filepath.Join(e.cfg.DataDir, quarantineDirName,
		start.Format("20060102-150405"))

	// Phase 1: clear out everything that is not media. The canonical
	// tree holds media files only.
	nonMedia, err := library.WalkNonMedia(e.cfg.LibraryDir)
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	sink.phase(PhaseQuarantining, len(nonMedia))
	for i, rel := range nonMedia {
		if err := ctx.Err(); err != nil {
			sink.fail(err)
			return summary, err
		}
		dest := fsutil.UniquePath(filepath.Join(quarantineRoot, rel))
		if err := fsutil.MoveFile(e.abs(rel), dest); err != nil {
			logging.Warn("Failed to quarantine %s: %v", rel, err)
			man.record("reject", e.abs(rel), "", "io-error")
			summary.Rejected++
		} else {
			man.record("quarantine", rel, dest, "non-media")
			summary.NonMedia++
		}
		sink.progress(PhaseQuarantining, i+1, len(nonMedia))
	}

	// Phase 2: move every media file to its canonical place.
	found, err := library.Walk(e.cfg.LibraryDir)
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	sink.phase(PhaseReorganizing, len(found))
	e.prewarmDigests(ctx, found)

	for i, entry := range found {
		if err := ctx.Err(); err != nil {
			sink.fail(err)
			return summary, err
		}
		if err := e.terraformOne(ctx, entry, quarantineRoot, man, &summary, sink); err != nil {
			sink.fail(err)
			return summary, err
		}
		sink.progress(PhaseReorganizing, i+1, len(found))
	}

	// Every record whose file terraform displaced without an index
	// update is now a ghost; the moves above updated paths in step, so
	// what remains here are records that were stale before the run.
	indexed, err := e.Store().AllPathIDs(ctx)
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	for path, id := range indexed {
		if _, statErr := os.Stat(e.abs(path)); errors.Is(statErr, os.ErrNotExist) {
			if err := e.Store().DeletePhoto(ctx, id); err != nil {
				sink.fail(err)
				return summary, err
			}
			summary.GhostsRemoved++
			metrics.SyncGhostsRemoved.Inc()
		}
	}

	sink.phase(PhaseRemovingEmpty, 0)
	removed, err := library.RemoveEmptyFolders(e.cfg.LibraryDir, config.ProtectedDirNames())
	if err != nil {
		sink.fail(err)
		return summary, err
	}
	summary.FoldersRemoved = removed

	summary.Duration = time.Since(start)
	e.recordSyncRun(summary.Duration)
	metrics.SyncRunsTotal.WithLabelValues("terraform").Inc()
	metrics.SyncLastRunTimestamp.WithLabelValues("terraform").SetToCurrentTime()
	metrics.SyncLastRunDuration.WithLabelValues("terraform").Set(summary.Duration.Seconds())

	sink.complete(summary)
	logging.Info("Terraform finished: %d moved, %d canonical, %d imported, %d non-media, %d duplicates, %d rejected in %s",
		summary.Moved, summary.AlreadyCanonical, summary.Imported, summary.NonMedia,
		summary.Duplicates, summary.Rejected, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// terraformOne brings one media file into canonical shape.
func (e *Engine) terraformOne(ctx context.Context, entry library.Entry, quarantineRoot string, man *manifest, summary *TerraformSummary, sink *Sink) error {
	abs := e.abs(entry.RelPath)

	digest, _, err := e.hasher.Digest(ctx, abs)
	if err != nil {
		logging.Warn("Cannot hash %s: %v", entry.RelPath, err)
		e.quarantine(entry.RelPath, quarantineRoot, "io-error", man, sink)
		summary.Rejected++
		return nil
	}

	record, err := e.Store().GetPhotoByHash(ctx, digest)
	switch {
	case err == nil:
		return e.terraformTracked(ctx, entry, record, quarantineRoot, man, summary, sink)
	case errors.Is(err, index.ErrNotFound):
		return e.terraformUntracked(ctx, entry, quarantineRoot, man, summary, sink)
	default:
		return err
	}
}

// terraformTracked handles a file whose content the index already
// knows.
func (e *Engine) terraformTracked(ctx context.Context, entry library.Entry, record *index.PhotoRecord, quarantineRoot string, man *manifest, summary *TerraformSummary, sink *Sink) error {
	if record.CurrentPath != entry.RelPath {
		// The index points the content at a different path. If that
		// file still exists, this one is a surplus copy.
		if _, statErr := os.Stat(e.abs(record.CurrentPath)); statErr == nil {
			e.quarantine(entry.RelPath, quarantineRoot, "duplicate", man, sink)
			summary.Duplicates++
			return nil
		}
		// The tracked file is gone; adopt this one as the survivor.
	}

	taken := record.DateTaken
	if taken.IsZero() {
		extracted, _, err := e.extractor.CaptureTime(ctx, e.abs(entry.RelPath))
		if err == nil {
			taken = extracted
		}
	}

	target, dup, err := e.resolveTarget(ctx, e.abs(entry.RelPath), taken, record.ContentHash, strings.ToLower(filepath.Ext(entry.RelPath)))
	if err != nil {
		return err
	}
	if dup != nil && dup.CurrentPath != entry.RelPath {
		e.quarantine(entry.RelPath, quarantineRoot, "duplicate", man, sink)
		summary.Duplicates++
		return nil
	}

	if target == entry.RelPath {
		summary.AlreadyCanonical++
		if record.CurrentPath != entry.RelPath {
			return e.Store().UpdateAfterRewrite(ctx, record.ID, record.ContentHash, target, taken)
		}
		return nil
	}

	if err := fsutil.MoveFile(e.abs(entry.RelPath), e.abs(target)); err != nil {
		logging.Warn("Failed to move %s to %s: %v", entry.RelPath, target, err)
		summary.Rejected++
		sink.rejected(entry.RelPath, "io-error")
		man.record("reject", e.abs(entry.RelPath), "", "io-error")
		return nil
	}
	if err := e.Store().UpdateAfterRewrite(ctx, record.ID, record.ContentHash, target, taken); err != nil {
		// Move back so the index and disk do not diverge.
		if rbErr := fsutil.MoveFile(e.abs(target), e.abs(entry.RelPath)); rbErr != nil {
			logging.Error("Rollback of %s failed: %v", target, rbErr)
		}
		return err
	}

	man.record("move", entry.RelPath, target, "")
	summary.Moved++
	return nil
}

// terraformUntracked runs the full placement pipeline, with move
// semantics, on a file the index has never seen.
func (e *Engine) terraformUntracked(ctx context.Context, entry library.Entry, quarantineRoot string, man *manifest, summary *TerraformSummary, sink *Sink) error {
	result, err := e.place(ctx, e.abs(entry.RelPath), filepath.Base(entry.RelPath), placeMove)
	if err != nil {
		return err
	}

	metrics.ImportOutcomesTotal.WithLabelValues(string(result.outcome)).Inc()
	switch result.outcome {
	case OutcomeImported:
		summary.Imported++
		man.record("import", entry.RelPath, result.record.CurrentPath, "")
	case OutcomeDuplicate:
		e.quarantine(entry.RelPath, quarantineRoot, "duplicate", man, sink)
		summary.Duplicates++
	case OutcomeRejected:
		e.quarantine(entry.RelPath, quarantineRoot, result.reason, man, sink)
		summary.Rejected++
	}
	return nil
}

// quarantine moves a library file into the quarantine tree, preserving
// its relative path.
func (e *Engine) quarantine(rel, quarantineRoot, reason string, man *manifest, sink *Sink) {
	dest := fsutil.UniquePath(filepath.Join(quarantineRoot, rel))
	if err := fsutil.MoveFile(e.abs(rel), dest); err != nil {
		logging.Error("Failed to quarantine %s: %v", rel, err)
		man.record("reject", e.abs(rel), "", reason)
		sink.rejected(rel, reason)
		return
	}
	man.record("quarantine", rel, dest, reason)
	sink.rejected(rel, reason)
}
