package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"photokeep/internal/fsutil"
	"photokeep/internal/logging"
)

// PruneHashCache drops persisted cache entries whose file no longer
// exists. Stale entries are never wrong (their key can no longer
// match), only dead weight.
func (e *Engine) PruneHashCache(ctx context.Context) (int, error) {
	paths, err := e.Store().CachePaths(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			if err := e.Store().CacheDeletePath(ctx, path); err != nil {
				return pruned, err
			}
			pruned++
		}
	}

	if pruned > 0 {
		logging.Info("Pruned %d stale hash cache paths", pruned)
	}
	return pruned, nil
}

// ClearHashCache drops both cache levels entirely.
func (e *Engine) ClearHashCache(ctx context.Context) error {
	e.hasher.ClearMemory()
	return e.Store().CacheClear(ctx)
}

// CopyRejected copies the files an operation manifest could not place
// into destDir for manual remediation. Terraform quarantine entries are
// copied out of the quarantine tree preserving their relative paths;
// import rejections are copied from their untouched sources.
func CopyRejected(manifestPath, destDir string) (int, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return 0, fmt.Errorf("cannot open manifest: %w", err)
	}
	defer f.Close()

	copied := 0
	dec := json.NewDecoder(f)
	for dec.More() {
		var entry ManifestEntry
		if err := dec.Decode(&entry); err != nil {
			return copied, fmt.Errorf("corrupt manifest line after %d entries: %w", copied, err)
		}

		var src, dest string
		switch entry.Action {
		case "quarantine":
			if entry.Reason == "" || entry.Reason == "non-media" {
				continue
			}
			src = entry.Dest
			dest = filepath.Join(destDir, entry.Source)
		case "reject":
			if entry.Source == "" {
				continue
			}
			src = entry.Source
			dest = filepath.Join(destDir, filepath.Base(entry.Source))
		default:
			continue
		}

		if err := fsutil.CopyFile(src, dest); err != nil {
			logging.Warn("Failed to copy rejected file %s: %v", src, err)
			continue
		}
		copied++
	}
	return copied, nil
}
