// Package metadata extracts and writes embedded media metadata by
// driving exiftool, ffprobe and ffmpeg as external tools.
//
// The package exposes two small interfaces, Extractor and Writer, so
// library operations can be tested against fakes without the tools
// installed. Every failure is classified into a FailureKind; callers
// decide between rejection reasons by kind rather than by parsing
// messages.
package metadata
