package index

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CacheGet looks up a persisted digest for the exact file state
// (path, mtime, size). A miss returns ErrNotFound.
func (s *Store) CacheGet(ctx context.Context, filePath string, mtimeNs, fileSize int64) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_get", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var hash string
	err = s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM hash_cache
		WHERE file_path = ? AND mtime_ns = ? AND file_size = ?`,
		filePath, mtimeNs, fileSize,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// CachePut stores or refreshes a digest for a file state.
func (s *Store) CachePut(ctx context.Context, entry CacheEntry) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_put", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO hash_cache (file_path, mtime_ns, file_size, content_hash, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.FilePath, entry.MtimeNs, entry.FileSize, entry.ContentHash,
		entry.CachedAt.Format(time.RFC3339),
	)
	return err
}

// CacheDeletePath removes every cache entry for a path, regardless of
// file state.
func (s *Store) CacheDeletePath(ctx context.Context, filePath string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_delete_path", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, "DELETE FROM hash_cache WHERE file_path = ?", filePath)
	return err
}

// CachePaths returns every distinct path with at least one cache
// entry. Used by maintenance to prune entries for files that no
// longer exist.
func (s *Store) CachePaths(ctx context.Context) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_paths", start, err) }()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT file_path FROM hash_cache")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// CacheClear removes all persisted cache entries.
func (s *Store) CacheClear(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_clear", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, "DELETE FROM hash_cache")
	return err
}
