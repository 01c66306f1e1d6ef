// Package hashcache provides content identity for library files: a
// chunked SHA-256 hasher behind a two-level cache keyed by file state
// (path, mtime, size).
//
// The cache store is an interface with an in-memory LRU level and a
// persistent level backed by the index store, composed explicitly
// rather than held as package-global state.
package hashcache
