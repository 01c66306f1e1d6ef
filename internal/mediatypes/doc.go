// Package mediatypes defines the supported media file extensions and
// their classification into photo and video kinds.
package mediatypes
