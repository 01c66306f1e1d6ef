package mediatypes

// Kind classifies a library item by its media type.
type Kind string

const (
	// KindPhoto represents a still image.
	KindPhoto Kind = "photo"
	// KindVideo represents a video file.
	KindVideo Kind = "video"
	// KindOther represents an unsupported file type.
	KindOther Kind = "other"
)

// PhotoExtensions maps file extensions to whether they are supported photo formats.
var PhotoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".heic": true,
	".heif": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".webp": true,
	".avif": true,
	".jp2":  true,
	".raw":  true,
	".cr2":  true,
	".nef":  true,
	".arw":  true,
	".dng":  true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
var VideoExtensions = map[string]bool{
	".mov":  true,
	".mp4":  true,
	".m4v":  true,
	".mkv":  true,
	".wmv":  true,
	".webm": true,
	".flv":  true,
	".3gp":  true,
	".mpg":  true,
	".mpeg": true,
	".vob":  true,
	".ts":   true,
	".mts":  true,
	".avi":  true,
}

// MetadataOpaqueExtensions lists video containers that do not carry
// embedded creation-time metadata reliably. Writing a capture date into
// these formats is rejected as unsupported rather than attempted.
var MetadataOpaqueExtensions = map[string]bool{
	".mpg":  true,
	".mpeg": true,
	".vob":  true,
	".ts":   true,
	".mts":  true,
	".avi":  true,
	".wmv":  true,
}

// GetKind returns the Kind for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
// Returns KindOther if the extension is not recognized.
func GetKind(ext string) Kind {
	if PhotoExtensions[ext] {
		return KindPhoto
	}
	if VideoExtensions[ext] {
		return KindVideo
	}
	return KindOther
}

// IsMediaFile returns true if the extension represents a supported media file.
func IsMediaFile(ext string) bool {
	return GetKind(ext) != KindOther
}
