package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"photokeep/internal/fsutil"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/logging"
)

// DeleteToTrash soft-deletes a tracked file: the file moves into the
// trash directory and the record converts to a trash snapshot. The
// file moves first; a crash between the two steps leaves an untracked
// trash file, never a live record pointing at nothing.
func (e *Engine) DeleteToTrash(ctx context.Context, id int64) (*index.TrashRecord, error) {
	release, err := e.beginOp()
	if err != nil {
		return nil, err
	}
	defer release()

	photo, err := e.Store().GetPhotoByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.cfg.TrashDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trash directory: %w", err)
	}

	// Prefix with the record id so unrelated files with the same base
	// name never collide in the flat trash directory.
	trashName := fmt.Sprintf("%d_%s", photo.ID, filepath.Base(photo.CurrentPath))
	trashPath := fsutil.UniquePath(filepath.Join(e.cfg.TrashDir(), trashName))
	trashName = filepath.Base(trashPath)

	if err := fsutil.MoveFile(e.abs(photo.CurrentPath), trashPath); err != nil {
		return nil, fmt.Errorf("failed to move %s to trash: %w", photo.CurrentPath, err)
	}

	deletedAt := time.Now()
	if err := e.Store().MoveToTrash(ctx, photo, trashName, deletedAt); err != nil {
		if rbErr := fsutil.MoveFile(trashPath, e.abs(photo.CurrentPath)); rbErr != nil {
			logging.Error("Rollback of trash move for %s failed: %v", photo.CurrentPath, rbErr)
		}
		return nil, err
	}

	if err := e.Store().CacheDeletePath(ctx, e.abs(photo.CurrentPath)); err != nil {
		logging.Warn("Failed to drop cache entries for %s: %v", photo.CurrentPath, err)
	}

	logging.Info("Moved %s to trash as %s", photo.CurrentPath, trashName)
	return &index.TrashRecord{
		ID: photo.ID, OriginalPath: photo.CurrentPath,
		TrashFilename: trashName, DeletedAt: deletedAt, Photo: *photo,
	}, nil
}

// RestoreFromTrash moves a trashed file back into the library and
// revives its record. If the original path is occupied the file lands
// at a suffixed sibling and the record follows.
func (e *Engine) RestoreFromTrash(ctx context.Context, id int64) (*index.PhotoRecord, error) {
	release, err := e.beginOp()
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.Store().GetTrashRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	trashPath := filepath.Join(e.cfg.TrashDir(), rec.TrashFilename)
	destAbs := fsutil.UniquePath(e.abs(rec.OriginalPath))
	destRel, err := filepath.Rel(e.cfg.LibraryDir, destAbs)
	if err != nil {
		return nil, err
	}
	destRel = library.NormalizePath(destRel)

	if err := fsutil.MoveFile(trashPath, destAbs); err != nil {
		return nil, fmt.Errorf("failed to restore %s from trash: %w", rec.TrashFilename, err)
	}

	rec.Photo.CurrentPath = destRel
	if err := e.Store().RestoreFromTrash(ctx, rec); err != nil {
		if rbErr := fsutil.MoveFile(destAbs, trashPath); rbErr != nil {
			logging.Error("Rollback of restore for %s failed: %v", rec.TrashFilename, rbErr)
		}
		return nil, err
	}

	logging.Info("Restored %s from trash to %s", rec.TrashFilename, destRel)
	photo := rec.Photo
	return &photo, nil
}

// PurgeTrash permanently deletes one trash entry, file and record.
func (e *Engine) PurgeTrash(ctx context.Context, id int64) error {
	release, err := e.beginOp()
	if err != nil {
		return err
	}
	defer release()

	return e.purgeTrashLocked(ctx, id)
}

// EmptyTrash permanently deletes every trash entry.
func (e *Engine) EmptyTrash(ctx context.Context) (int, error) {
	release, err := e.beginOp()
	if err != nil {
		return 0, err
	}
	defer release()

	records, err := e.Store().ListTrash(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, rec := range records {
		if err := e.purgeTrashLocked(ctx, rec.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (e *Engine) purgeTrashLocked(ctx context.Context, id int64) error {
	rec, err := e.Store().GetTrashRecord(ctx, id)
	if err != nil {
		return err
	}

	// Record first: if the file removal fails, the orphan trash file
	// is harmless, while a record for a removed file would offer a
	// restore that cannot work.
	if err := e.Store().PurgeTrashRecord(ctx, id); err != nil {
		return err
	}
	if err := fsutil.RemoveIfExists(filepath.Join(e.cfg.TrashDir(), rec.TrashFilename)); err != nil {
		logging.Warn("Failed to remove trash file %s: %v", rec.TrashFilename, err)
	}

	logging.Info("Purged %s from trash", rec.TrashFilename)
	return nil
}

// ListTrash returns the trash contents, most recent first.
func (e *Engine) ListTrash(ctx context.Context) ([]index.TrashRecord, error) {
	return e.Store().ListTrash(ctx)
}
