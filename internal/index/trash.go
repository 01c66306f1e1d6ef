package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MoveToTrash atomically converts a live record into a trash record.
// The file move into the trash directory happens before this call; the
// ordering guarantees a crash leaves at worst an untracked trash file,
// never a live record pointing at a missing path.
func (s *Store) MoveToTrash(ctx context.Context, photo *PhotoRecord, trashFilename string, deletedAt time.Time) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("move_to_trash", start, err) }()

	snapshot, err := json.Marshal(photo)
	if err != nil {
		return fmt.Errorf("failed to snapshot record %d: %w", photo.ID, err)
	}

	tx, err := s.BeginBatch()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO deleted_photos (id, original_path, trash_filename, deleted_at, photo_data)
		VALUES (?, ?, ?, ?, ?)`,
		photo.ID, photo.CurrentPath, trashFilename,
		deletedAt.Format(time.RFC3339), string(snapshot),
	)
	if err == nil {
		_, err = tx.ExecContext(context.Background(), "DELETE FROM photos WHERE id = ?", photo.ID)
	}

	return s.EndBatch(tx, err)
}

// GetTrashRecord returns the trash record with the given id, or
// ErrNotFound.
func (s *Store) GetTrashRecord(ctx context.Context, id int64) (*TrashRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_trash_record", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_path, trash_filename, deleted_at, photo_data
		FROM deleted_photos WHERE id = ?`, id)

	rec, err := scanTrashRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListTrash returns all trash records, most recently deleted first.
func (s *Store) ListTrash(ctx context.Context) ([]TrashRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_trash", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_path, trash_filename, deleted_at, photo_data
		FROM deleted_photos ORDER BY deleted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TrashRecord
	for rows.Next() {
		rec, scanErr := scanTrashRecord(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		records = append(records, *rec)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RestoreFromTrash converts a trash record back into a live record.
// Call after the file has been moved back into the library.
func (s *Store) RestoreFromTrash(ctx context.Context, rec *TrashRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("restore_from_trash", start, err) }()

	tx, err := s.BeginBatch()
	if err != nil {
		return err
	}

	photo := rec.Photo
	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO photos (id, original_filename, current_path, date_taken, content_hash, file_size, file_type, width, height, rating)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		photo.ID, photo.OriginalFilename, photo.CurrentPath,
		formatDateTaken(photo.DateTaken), photo.ContentHash,
		photo.FileSize, photo.Kind,
		nullableInt(photo.Width), nullableInt(photo.Height), photo.Rating,
	)
	if err == nil {
		_, err = tx.ExecContext(context.Background(), "DELETE FROM deleted_photos WHERE id = ?", rec.ID)
	}

	return s.EndBatch(tx, err)
}

// PurgeTrashRecord permanently removes a trash record. The caller is
// responsible for removing the trash file itself.
func (s *Store) PurgeTrashRecord(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("purge_trash_record", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, "DELETE FROM deleted_photos WHERE id = ?", id)
	return err
}

func scanTrashRecord(row interface{ Scan(...interface{}) error }) (*TrashRecord, error) {
	var rec TrashRecord
	var deletedAt, photoData string

	if err := row.Scan(&rec.ID, &rec.OriginalPath, &rec.TrashFilename, &deletedAt, &photoData); err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, deletedAt); err == nil {
		rec.DeletedAt = t
	}
	if err := json.Unmarshal([]byte(photoData), &rec.Photo); err != nil {
		return nil, fmt.Errorf("corrupt trash snapshot for record %d: %w", rec.ID, err)
	}

	return &rec, nil
}
