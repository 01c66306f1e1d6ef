package index

import (
	"time"

	"photokeep/internal/mediatypes"
)

// TimeLayout is the storage format for capture timestamps. It matches
// the EXIF DateTimeOriginal wire format so values round-trip through
// the external metadata tools without conversion.
const TimeLayout = "2006:01:02 15:04:05"

// PhotoRecord is one tracked media file.
//
// ContentHash is unique among live records: two bit-identical files
// are never both tracked. OriginalFilename records provenance and is
// never mutated after insert.
type PhotoRecord struct {
	ID               int64           `json:"id"`
	OriginalFilename string          `json:"originalFilename"`
	CurrentPath      string          `json:"currentPath"`
	DateTaken        time.Time       `json:"dateTaken"`
	ContentHash      string          `json:"contentHash"`
	FileSize         int64           `json:"fileSize"`
	Kind             mediatypes.Kind `json:"kind"`
	Width            int             `json:"width,omitempty"`
	Height           int             `json:"height,omitempty"`
	Rating           *int            `json:"rating,omitempty"`
}

// TrashRecord is a snapshot of a PhotoRecord at deletion time plus the
// relocated file's name inside the trash directory.
type TrashRecord struct {
	ID            int64       `json:"id"`
	OriginalPath  string      `json:"originalPath"`
	TrashFilename string      `json:"trashFilename"`
	DeletedAt     time.Time   `json:"deletedAt"`
	Photo         PhotoRecord `json:"photo"`
}

// CacheEntry is one persisted hash cache row. The key is the triple
// (FilePath, MtimeNs, FileSize); any change to a component is simply a
// different key, so stale entries age out by never being hit again.
type CacheEntry struct {
	FilePath    string
	MtimeNs     int64
	FileSize    int64
	ContentHash string
	CachedAt    time.Time
}

// Stats summarizes the index contents.
type Stats struct {
	TotalPhotos  int       `json:"totalPhotos"`
	TotalVideos  int       `json:"totalVideos"`
	TotalItems   int       `json:"totalItems"`
	TotalTrashed int       `json:"totalTrashed"`
	LastSynced   time.Time `json:"lastSynced,omitempty"`
	SyncDuration string    `json:"syncDuration,omitempty"`
}

// formatDateTaken serializes a capture time for storage. The zero time
// maps to NULL (capture time unknown).
func formatDateTaken(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(TimeLayout)
}

// parseDateTaken deserializes a stored capture time. NULL and
// unparseable values map to the zero time.
func parseDateTaken(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TimeLayout, *s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}
