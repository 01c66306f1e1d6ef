// Package index implements the relational index store for the
// library: the photos table of tracked media, the deleted_photos
// soft-delete table backing the trash, and the persistent hash cache.
//
// The store is SQLite in WAL mode with the schema managed by embedded
// golang-migrate migrations. Mutations are transactional; the digest
// and path columns carry unique constraints so the store itself
// enforces the "one live record per content digest" invariant.
package index
