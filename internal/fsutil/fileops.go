package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"photokeep/internal/logging"
)

// copyBufferSize is the chunk size for file copies.
const copyBufferSize = 1 << 20

// CopyFile copies src to dst, creating parent directories as needed.
// The copy is written to a temporary name in the destination directory
// and renamed into place, so a crash never leaves a partial file at
// dst. Modification time is preserved.
func CopyFile(src, dst string) error {
	srcInfo, err := StatWithRetry(src, DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("cannot stat source %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	in, err := OpenWithRetry(src, DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("cannot open source %s: %w", src, err)
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil {
			logging.Warn("failed to close source %s: %v", src, closeErr)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".copying-*")
	if err != nil {
		return fmt.Errorf("cannot create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logging.Warn("failed to remove partial copy %s: %v", tmpPath, removeErr)
		}
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tmp, in, buf); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("copy failed: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close failed: %w", err)
	}

	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		logging.Debug("failed to preserve mtime on %s: %v", dst, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return fmt.Errorf("rename into place failed: %w", err)
	}

	return nil
}

// MoveFile moves src to dst, creating parent directories as needed.
// Within one volume this is a rename; across volumes it degrades to
// copy-then-remove.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	crossDevice := errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
	if !crossDevice {
		return fmt.Errorf("move failed: %w", err)
	}

	if err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove source after cross-device copy: %w", err)
	}
	return nil
}

// RemoveIfExists deletes path, treating absence as success.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// UniquePath returns path if it is free; otherwise it appends _1, _2,
// ... before the extension until the name is unused.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s_%d%s", base, counter, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
