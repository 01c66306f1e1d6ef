// Package library holds the pure structural logic of the media tree:
// the canonical naming scheme, the filesystem walker, the
// index-versus-disk reconciliation, and the empty-folder janitor.
// Nothing in here touches the index store or external tools, which
// keeps these pieces trivially testable.
package library
