package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const photoColumns = "id, original_filename, current_path, date_taken, content_hash, file_size, file_type, width, height, rating"

// scanPhoto reads one photos row.
func scanPhoto(row interface{ Scan(...interface{}) error }) (*PhotoRecord, error) {
	var p PhotoRecord
	var dateTaken *string
	var width, height sql.NullInt64
	var rating sql.NullInt64

	err := row.Scan(
		&p.ID, &p.OriginalFilename, &p.CurrentPath, &dateTaken,
		&p.ContentHash, &p.FileSize, &p.Kind, &width, &height, &rating,
	)
	if err != nil {
		return nil, err
	}

	p.DateTaken = parseDateTaken(dateTaken)
	if width.Valid {
		p.Width = int(width.Int64)
	}
	if height.Valid {
		p.Height = int(height.Int64)
	}
	if rating.Valid {
		r := int(rating.Int64)
		p.Rating = &r
	}
	return &p, nil
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// InsertPhoto inserts a new record and sets its ID. A unique
// constraint violation surfaces unchanged so callers can classify it
// with IsUniqueConstraint.
func (s *Store) InsertPhoto(ctx context.Context, p *PhotoRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_photo", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = s.db.ExecContext(ctx, `
		INSERT INTO photos (original_filename, current_path, date_taken, content_hash, file_size, file_type, width, height, rating)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OriginalFilename, p.CurrentPath, formatDateTaken(p.DateTaken),
		p.ContentHash, p.FileSize, p.Kind,
		nullableInt(p.Width), nullableInt(p.Height), p.Rating,
	)
	if err != nil {
		return err
	}

	p.ID, err = result.LastInsertId()
	return err
}

// InsertPhotoTx is InsertPhoto inside a caller-managed transaction.
func (s *Store) InsertPhotoTx(tx *sql.Tx, p *PhotoRecord) error {
	result, err := tx.ExecContext(context.Background(), `
		INSERT INTO photos (original_filename, current_path, date_taken, content_hash, file_size, file_type, width, height, rating)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OriginalFilename, p.CurrentPath, formatDateTaken(p.DateTaken),
		p.ContentHash, p.FileSize, p.Kind,
		nullableInt(p.Width), nullableInt(p.Height), p.Rating,
	)
	if err != nil {
		return err
	}

	p.ID, err = result.LastInsertId()
	return err
}

// GetPhotoByHash returns the live record with the given content
// digest, or ErrNotFound.
func (s *Store) GetPhotoByHash(ctx context.Context, hash string) (*PhotoRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_photo_by_hash", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	p, err := scanPhoto(s.db.QueryRowContext(ctx,
		"SELECT "+photoColumns+" FROM photos WHERE content_hash = ?", hash))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPhotoByID returns the record with the given id, or ErrNotFound.
func (s *Store) GetPhotoByID(ctx context.Context, id int64) (*PhotoRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_photo_by_id", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	p, err := scanPhoto(s.db.QueryRowContext(ctx,
		"SELECT "+photoColumns+" FROM photos WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPhotoByPath returns the record at the given relative path, or
// ErrNotFound.
func (s *Store) GetPhotoByPath(ctx context.Context, path string) (*PhotoRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_photo_by_path", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	p, err := scanPhoto(s.db.QueryRowContext(ctx,
		"SELECT "+photoColumns+" FROM photos WHERE current_path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AllPathIDs returns every tracked relative path mapped to its record
// id. This is the index side of the reconciliation snapshot.
func (s *Store) AllPathIDs(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("all_path_ids", start, err) }()

	rows, err := s.db.QueryContext(ctx, "SELECT id, current_path FROM photos")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]int64)
	for rows.Next() {
		var id int64
		var path string
		if err = rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		paths[path] = id
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// DeletePhotoTx removes a record inside a caller-managed transaction.
func (s *Store) DeletePhotoTx(tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(context.Background(), "DELETE FROM photos WHERE id = ?", id)
	return err
}

// DeletePhoto removes a record by id.
func (s *Store) DeletePhoto(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_photo", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, "DELETE FROM photos WHERE id = ?", id)
	return err
}

// UpdateAfterRewrite records the new digest, path and capture time of
// a file whose embedded metadata was rewritten. The three change
// together: rewriting metadata changes the bytes, hence the digest,
// hence the canonical path.
func (s *Store) UpdateAfterRewrite(ctx context.Context, id int64, newHash, newPath string, dateTaken time.Time) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_after_rewrite", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		UPDATE photos SET content_hash = ?, current_path = ?, date_taken = ? WHERE id = ?`,
		newHash, newPath, formatDateTaken(dateTaken), id,
	)
	return err
}

// CountPhotos returns the number of live records.
func (s *Store) CountPhotos(ctx context.Context) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_photos", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos").Scan(&count)
	return count, err
}

// CalculateStats computes index statistics.
func (s *Store) CalculateStats(ctx context.Context) (Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("calculate_stats", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats Stats
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN file_type = 'photo' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN file_type = 'video' THEN 1 ELSE 0 END), 0)
		FROM photos`).Scan(&stats.TotalItems, &stats.TotalPhotos, &stats.TotalVideos)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to calculate stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deleted_photos").Scan(&stats.TotalTrashed)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count trash: %w", err)
	}

	return stats, nil
}
