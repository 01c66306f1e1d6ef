package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"photokeep/internal/fsutil"
	"photokeep/internal/hashcache"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
)

// SetDateTaken changes a tracked file's capture time. For formats that
// carry embedded metadata the new time is written into the file, which
// changes its bytes and therefore its digest; the file then moves to
// the canonical location for the new date. Metadata-opaque formats
// keep their bytes and only the record and location change.
func (e *Engine) SetDateTaken(ctx context.Context, id int64, taken time.Time) (*index.PhotoRecord, error) {
	release, err := e.beginOp()
	if err != nil {
		return nil, err
	}
	defer release()

	photo, err := e.Store().GetPhotoByID(ctx, id)
	if err != nil {
		return nil, err
	}

	abs := e.abs(photo.CurrentPath)
	ext := strings.ToLower(filepath.Ext(photo.CurrentPath))
	digest := photo.ContentHash

	if !mediatypes.MetadataOpaqueExtensions[ext] {
		if err := e.writer.WriteCaptureTime(ctx, abs, taken); err != nil {
			return nil, fmt.Errorf("failed to write capture time into %s: %w", photo.CurrentPath, err)
		}
		digest, err = hashcache.Compute(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to re-hash %s after date change: %w", photo.CurrentPath, err)
		}
	}

	// Relocate only files that were canonically named; a file the user
	// keeps at a hand-picked path stays there.
	newPath := photo.CurrentPath
	if library.IsCanonical(photo.CurrentPath, photo.DateTaken, photo.ContentHash) || digest != photo.ContentHash {
		target, dup, err := e.resolveTarget(ctx, abs, taken, digest, ext)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return nil, fmt.Errorf("date change collides with existing content at %s", dup.CurrentPath)
		}
		if target != photo.CurrentPath {
			if err := fsutil.MoveFile(abs, e.abs(target)); err != nil {
				return nil, fmt.Errorf("failed to move %s to %s: %w", photo.CurrentPath, target, err)
			}
			newPath = target
		}
	}

	if err := e.Store().UpdateAfterRewrite(ctx, id, digest, newPath, taken); err != nil {
		if newPath != photo.CurrentPath {
			if rbErr := fsutil.MoveFile(e.abs(newPath), abs); rbErr != nil {
				logging.Error("Rollback of date-change move for %s failed: %v", newPath, rbErr)
			}
		}
		return nil, err
	}

	if err := e.Store().CacheDeletePath(ctx, abs); err != nil {
		logging.Warn("Failed to drop cache entries for %s: %v", photo.CurrentPath, err)
	}

	logging.Info("Changed capture time of %s to %s (now at %s)",
		photo.CurrentPath, taken.Format(index.TimeLayout), newPath)
	return e.Store().GetPhotoByID(ctx, id)
}
