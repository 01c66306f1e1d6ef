package library

import (
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
)

// Entry is one media file found during a library walk.
type Entry struct {
	// RelPath is the NFC-normalized path relative to the library root,
	// with forward-slash-free OS separators as filepath produces them.
	RelPath string
	Size    int64
	MtimeNs int64
}

// Walk scans the library tree under root and returns every media file,
// identified by its normalized relative path. Hidden entries (dot
// prefix) are skipped at any depth, which excludes the trash and data
// directories for free. Unreadable subtrees are logged and skipped,
// not fatal: a sync over a partially readable library is still useful.
func Walk(root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(name))
		if !mediatypes.IsMediaFile(ext) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			logging.Warn("Skipping unstattable file %s: %v", path, infoErr)
			return nil
		}

		entries = append(entries, Entry{
			RelPath: NormalizePath(rel),
			Size:    info.Size(),
			MtimeNs: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// NormalizePath canonicalizes a relative path to Unicode NFC. macOS
// filesystems hand back decomposed names, and the index must treat
// both spellings of the same name as one path.
func NormalizePath(rel string) string {
	return norm.NFC.String(rel)
}

// WalkNonMedia returns every non-hidden file under root that is NOT a
// recognized media file. The terraform operation quarantines these
// before reorganizing.
func WalkNonMedia(root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		if mediatypes.IsMediaFile(strings.ToLower(filepath.Ext(name))) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, NormalizePath(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paths, nil
}
