package metadata

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
	"photokeep/internal/metrics"
)

// Writer canonicalizes the embedded capture time of a media file in
// place. Implementations return classified *Error values so callers
// can map failures onto the rejection taxonomy without inspecting
// messages.
type Writer interface {
	WriteCaptureTime(ctx context.Context, path string, t time.Time) error
}

// ToolWriter writes metadata by shelling out to exiftool for photos
// and ffmpeg (stream-copy remux) for videos.
type ToolWriter struct {
	timeout time.Duration
}

// NewToolWriter creates a writer with the given per-invocation tool
// timeout. timeout <= 0 uses 30s.
func NewToolWriter(timeout time.Duration) *ToolWriter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolWriter{timeout: timeout}
}

// WriteCaptureTime writes t into the file's embedded metadata and
// verifies the write by reading it back. The file bytes change on
// success; the caller owns re-hashing.
func (w *ToolWriter) WriteCaptureTime(ctx context.Context, path string, t time.Time) error {
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case mediatypes.MetadataOpaqueExtensions[ext]:
		return &Error{
			Kind: FailureUnsupported,
			Op:   "metadata write",
			Path: path,
			Err:  fmt.Errorf("format %s does not support embedded metadata", strings.ToUpper(strings.TrimPrefix(ext, "."))),
		}
	case mediatypes.VideoExtensions[ext]:
		return w.writeVideo(ctx, path, t)
	default:
		return w.writePhoto(ctx, path, t)
	}
}

// writePhoto sets the three EXIF date tags via exiftool and reads
// DateTimeOriginal back to verify.
func (w *ToolWriter) writePhoto(ctx context.Context, path string, t time.Time) error {
	date := t.Format(TimeLayout)

	// -P preserves the filesystem mtime; placement is driven by the
	// embedded date, not the stat date.
	_, err := w.run(ctx, "exiftool", "write", w.timeout,
		"exiftool",
		"-DateTimeOriginal="+date,
		"-CreateDate="+date,
		"-ModifyDate="+date,
		"-overwrite_original",
		"-P",
		path)
	if err != nil {
		return err
	}

	// Verify by reading back. A write that does not round-trip is a
	// failed write.
	output, err := w.run(ctx, "exiftool", "verify", 5*time.Second,
		"exiftool", "-DateTimeOriginal", "-s3", path)
	if err != nil {
		return err
	}

	readBack := strings.TrimSpace(string(output))
	if readBack != date {
		return &Error{
			Kind: FailureCorrupted,
			Op:   "exiftool verify",
			Path: path,
			Err:  fmt.Errorf("wrote %q, read back %q", date, readBack),
		}
	}

	logging.Debug("EXIF write verified for %s: %s", path, date)
	return nil
}

// writeVideo remuxes the container with a creation_time tag. ffmpeg
// cannot edit in place, so the remux goes to a sibling temp file that
// replaces the original only on success.
func (w *ToolWriter) writeVideo(ctx context.Context, path string, t time.Time) error {
	isoDate := t.Format("2006-01-02T15:04:05")

	ext := filepath.Ext(path)
	tempOutput := strings.TrimSuffix(path, ext) + "_rewrite" + ext

	// Remux takes longer than tag edits; allow double the timeout.
	_, err := w.run(ctx, "ffmpeg", "write", 2*w.timeout,
		"ffmpeg",
		"-i", path,
		"-metadata", "creation_time="+isoDate,
		"-codec", "copy",
		"-y",
		tempOutput)
	if err != nil {
		if removeErr := os.Remove(tempOutput); removeErr != nil && !os.IsNotExist(removeErr) {
			logging.Warn("failed to remove partial remux %s: %v", tempOutput, removeErr)
		}
		return err
	}

	if err := os.Rename(tempOutput, path); err != nil {
		if removeErr := os.Remove(tempOutput); removeErr != nil && !os.IsNotExist(removeErr) {
			logging.Warn("failed to remove remux output %s: %v", tempOutput, removeErr)
		}
		return &Error{Kind: FailurePermission, Op: "ffmpeg replace", Path: path, Err: err}
	}

	return nil
}

// run executes an external tool and returns stdout, classifying any
// failure.
func (w *ToolWriter) run(ctx context.Context, tool, operation string, timeout time.Duration, name string, args ...string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.MetadataToolDuration.WithLabelValues(tool, operation).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		return nil, classifyToolError(tool+" "+operation, args[len(args)-1], err, stderr.String())
	}
	return output, nil
}
