package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	// Register decoders so image.DecodeConfig can read headers for the
	// common photo formats without decoding pixels.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"photokeep/internal/fsutil"
	"photokeep/internal/mediatypes"
)

// Dimensions returns the pixel width and height of a media file.
// Photos are read header-only through the registered image decoders;
// formats the decoders do not cover, and all videos, go through
// exiftool. Callers treat failure as missing dimensions, not as a
// rejection.
func (e *ToolExtractor) Dimensions(ctx context.Context, path string) (int, int, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if mediatypes.GetKind(ext) == mediatypes.KindPhoto {
		if w, h, err := decodeConfigDimensions(path); err == nil {
			return w, h, nil
		}
	}

	return e.toolDimensions(ctx, path)
}

func decodeConfigDimensions(path string) (int, int, error) {
	f, err := fsutil.OpenWithRetry(path, fsutil.DefaultRetryConfig())
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// toolDimensions asks exiftool, which understands every format the
// library accepts, including raw photos and video containers.
func (e *ToolExtractor) toolDimensions(ctx context.Context, path string) (int, int, error) {
	output, err := e.run(ctx, "exiftool", "dimensions",
		"exiftool", "-ImageWidth", "-ImageHeight", "-j", path)
	if err != nil {
		return 0, 0, err
	}

	var records []struct {
		ImageWidth  int `json:"ImageWidth"`
		ImageHeight int `json:"ImageHeight"`
	}
	if err := json.Unmarshal(output, &records); err != nil || len(records) == 0 {
		return 0, 0, fmt.Errorf("unparseable exiftool dimensions output: %w", err)
	}
	if records[0].ImageWidth == 0 || records[0].ImageHeight == 0 {
		return 0, 0, fmt.Errorf("no dimensions recorded in %s", path)
	}
	return records[0].ImageWidth, records[0].ImageHeight, nil
}
