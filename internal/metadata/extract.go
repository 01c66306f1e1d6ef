package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"photokeep/internal/fsutil"
	"photokeep/internal/logging"
	"photokeep/internal/mediatypes"
	"photokeep/internal/metrics"
)

// TimeLayout is the EXIF date wire format.
const TimeLayout = "2006:01:02 15:04:05"

// Extractor derives capture time and pixel dimensions from a media
// file.
type Extractor interface {
	// CaptureTime returns the capture timestamp and whether it came
	// from embedded metadata (true) or the filesystem modification
	// time fallback (false). The fallback is always available, so an
	// error means the file itself is unreachable.
	CaptureTime(ctx context.Context, path string) (time.Time, bool, error)

	// Dimensions returns pixel width and height. Failure here is
	// independent of capture time extraction and non-fatal to callers.
	Dimensions(ctx context.Context, path string) (int, int, error)
}

// ToolExtractor extracts metadata by shelling out to exiftool for
// photos and ffprobe for videos, with a bounded timeout per
// invocation.
type ToolExtractor struct {
	timeout time.Duration
}

// NewToolExtractor creates an extractor with the given per-invocation
// tool timeout. timeout <= 0 uses 30s.
func NewToolExtractor(timeout time.Duration) *ToolExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolExtractor{timeout: timeout}
}

// CaptureTime extracts the embedded capture time, falling back to the
// filesystem modification time. The fallback affects canonical
// placement, so it is logged, never silent.
func (e *ToolExtractor) CaptureTime(ctx context.Context, path string) (time.Time, bool, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var embedded time.Time
	var err error
	if mediatypes.VideoExtensions[ext] {
		embedded, err = e.videoCreationTime(ctx, path)
	} else {
		embedded, err = e.photoCaptureTime(ctx, path)
	}

	if err == nil && !embedded.IsZero() {
		return embedded, true, nil
	}

	if err != nil {
		logging.Debug("embedded capture time unavailable for %s: %v", path, err)
	}

	info, statErr := fsutil.StatWithRetry(path, fsutil.DefaultRetryConfig())
	if statErr != nil {
		return time.Time{}, false, fmt.Errorf("no capture time and cannot stat %s: %w", path, statErr)
	}

	logging.Info("No embedded capture time in %s, falling back to file mtime %s",
		path, info.ModTime().Format(TimeLayout))
	return info.ModTime(), false, nil
}

// photoCaptureTime reads DateTimeOriginal, CreateDate or ModifyDate
// via exiftool, in that preference order.
func (e *ToolExtractor) photoCaptureTime(ctx context.Context, path string) (time.Time, error) {
	output, err := e.run(ctx, "exiftool", "read",
		"exiftool", "-DateTimeOriginal", "-CreateDate", "-ModifyDate", "-j", path)
	if err != nil {
		return time.Time{}, err
	}

	var records []struct {
		DateTimeOriginal string `json:"DateTimeOriginal"`
		CreateDate       string `json:"CreateDate"`
		ModifyDate       string `json:"ModifyDate"`
	}
	if err := json.Unmarshal(output, &records); err != nil || len(records) == 0 {
		return time.Time{}, fmt.Errorf("unparseable exiftool output: %w", err)
	}

	for _, raw := range []string{records[0].DateTimeOriginal, records[0].CreateDate, records[0].ModifyDate} {
		if t, ok := parseExifTime(raw); ok {
			return t, nil
		}
	}
	return time.Time{}, nil
}

// videoCreationTime reads the container creation_time tag via ffprobe.
func (e *ToolExtractor) videoCreationTime(ctx context.Context, path string) (time.Time, error) {
	output, err := e.run(ctx, "ffprobe", "read",
		"ffprobe", "-v", "quiet", "-print_format", "json",
		"-show_entries", "format_tags=creation_time", path)
	if err != nil {
		return time.Time{}, err
	}

	var probe struct {
		Format struct {
			Tags struct {
				CreationTime string `json:"creation_time"`
			} `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return time.Time{}, fmt.Errorf("unparseable ffprobe output: %w", err)
	}

	raw := probe.Format.Tags.CreationTime
	if raw == "" {
		return time.Time{}, nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Local(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable creation_time %q", raw)
}

// run executes an external tool with the extractor's timeout and
// returns stdout. Failures come back classified.
func (e *ToolExtractor) run(ctx context.Context, tool, operation string, name string, args ...string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.MetadataToolDuration.WithLabelValues(tool, operation).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
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

// parseExifTime parses an EXIF-format timestamp, tolerating trailing
// subseconds and timezone offsets.
func parseExifTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if len(raw) > len(TimeLayout) {
		raw = raw[:len(TimeLayout)]
	}
	t, err := time.ParseInLocation(TimeLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	// exiftool emits all-zero dates for some broken files.
	if t.Year() < 1000 {
		return time.Time{}, false
	}
	return t, true
}
