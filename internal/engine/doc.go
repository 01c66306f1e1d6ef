// Package engine orchestrates library operations: incremental sync,
// imports, full rebuilds, terraform reorganization, trash management
// and date edits. One Engine owns the index store, the hash cache and
// the external metadata tools; at most one mutating operation runs at
// a time and concurrent requests get ErrBusy instead of queueing.
//
// Long-running operations report progress through a typed event Sink
// that the HTTP layer streams out as server-sent events.
package engine
