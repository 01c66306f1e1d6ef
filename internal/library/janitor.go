package library

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"photokeep/internal/logging"
	"photokeep/internal/metrics"
)

// maxJanitorPasses bounds the empty-folder fixed point. A tree of
// nested empties collapses one level per pass; ten levels of pure
// nesting is already pathological.
const maxJanitorPasses = 10

// RemoveEmptyFolders deletes empty directories under root, bottom-up,
// repeating until a pass removes nothing. The root itself and any
// directory whose name appears in protected are never removed.
// It returns the number of directories removed.
func RemoveEmptyFolders(root string, protected []string) (int, error) {
	protectedSet := make(map[string]struct{}, len(protected))
	for _, name := range protected {
		protectedSet[name] = struct{}{}
	}

	total := 0
	for pass := 1; pass <= maxJanitorPasses; pass++ {
		removed, err := removeEmptyPass(root, protectedSet)
		if err != nil {
			return total, err
		}
		total += removed
		if removed == 0 {
			break
		}
		logging.Debug("Janitor pass %d removed %d folders", pass, removed)
	}

	if total > 0 {
		logging.Info("Removed %d empty folders under %s", total, root)
		metrics.EmptyFoldersRemoved.Add(float64(total))
	}
	return total, nil
}

func removeEmptyPass(root string, protected map[string]struct{}) (int, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Janitor skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		name := d.Name()
		if _, ok := protected[name]; ok || strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Deepest first, so a directory that only contains empty
	// subdirectories becomes removable within the same pass.
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) >
			strings.Count(dirs[j], string(filepath.Separator))
	})

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logging.Warn("Janitor cannot read %s: %v", dir, err)
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			logging.Warn("Janitor failed to remove %s: %v", dir, err)
			continue
		}
		removed++
	}
	return removed, nil
}
