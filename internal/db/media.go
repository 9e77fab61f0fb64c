package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

const mediaColumns = `media_id, file_name, file_type, blob_url, entity_name,
	entity_id, uploaded_by, uploaded_at, is_deleted, metadata, local_path,
	pending_sync, local_rev`

// InsertOrReplaceMediaFile upserts a media record. A zero MediaID inserts a
// new row and stores the assigned id back into m.
func (db *DB) InsertOrReplaceMediaFile(ctx context.Context, m *MediaFile, opts ...WriteOption) error {
	return wrap("upsert", "media_files", upsertMedia(ctx, db.conn, m, buildWriteOptions(opts)))
}

func upsertMedia(ctx context.Context, q queryer, m *MediaFile, wo writeOptions) error {
	metadata := string(m.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	var id any
	if m.MediaID != 0 {
		id = m.MediaID
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO media_files (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(media_id) DO UPDATE SET
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			blob_url = excluded.blob_url,
			entity_name = excluded.entity_name,
			entity_id = excluded.entity_id,
			uploaded_by = excluded.uploaded_by,
			uploaded_at = excluded.uploaded_at,
			is_deleted = excluded.is_deleted,
			metadata = excluded.metadata,
			local_path = excluded.local_path,
			pending_sync = excluded.pending_sync,
			local_rev = media_files.local_rev + 1
	`,
		id, m.FileName, m.FileType, m.BlobURL, m.EntityName, m.EntityID,
		m.UploadedBy, formatTime(m.UploadedAt), boolToInt(m.IsDeleted),
		metadata, m.LocalPath, wo.pendingFlag(),
	)
	if err != nil {
		return err
	}
	if m.MediaID == 0 {
		if m.MediaID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func scanMedia(s scanner) (*MediaFile, error) {
	m := &MediaFile{}
	var (
		uploadedAt, metadata string
		deleted, pending     int
	)
	err := s.Scan(
		&m.MediaID, &m.FileName, &m.FileType, &m.BlobURL, &m.EntityName,
		&m.EntityID, &m.UploadedBy, &uploadedAt, &deleted, &metadata,
		&m.LocalPath, &pending, &m.Rev,
	)
	if err != nil {
		return nil, err
	}
	m.IsDeleted = deleted == 1
	m.PendingSync = pending == 1
	m.Metadata = json.RawMessage(metadata)
	if m.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func getMedia(ctx context.Context, q queryer, id int64) (*MediaFile, error) {
	m, err := scanMedia(q.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM media_files WHERE media_id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (db *DB) queryMedia(ctx context.Context, where string, args ...any) ([]*MediaFile, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+mediaColumns+" FROM media_files "+where+" ORDER BY media_id", args...,
	)
	if err != nil {
		return nil, wrap("query", "media_files", err)
	}
	defer rows.Close()

	var out []*MediaFile
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, wrap("scan", "media_files", err)
		}
		out = append(out, m)
	}
	return out, wrap("query", "media_files", rows.Err())
}

// GetMediaFileByID returns the record, or nil if it does not exist
func (db *DB) GetMediaFileByID(ctx context.Context, id int64) (*MediaFile, error) {
	m, err := getMedia(ctx, db.conn, id)
	return m, wrap("get", "media_files", err)
}

// GetMediaFileByName looks a record up by its stored file name
func (db *DB) GetMediaFileByName(ctx context.Context, fileName string) (*MediaFile, error) {
	m, err := scanMedia(db.conn.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM media_files WHERE file_name = ? ORDER BY media_id LIMIT 1", fileName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, wrap("get", "media_files", err)
}

// GetAllMediaFiles returns every media record, deleted ones included
func (db *DB) GetAllMediaFiles(ctx context.Context) ([]*MediaFile, error) {
	return db.queryMedia(ctx, "")
}

// GetMediaFilesForEntity returns the records owned by (entityName, entityID).
// Soft-deleted records are left out unless includeDeleted is set.
func (db *DB) GetMediaFilesForEntity(ctx context.Context, entityName string, entityID int64, includeDeleted bool) ([]*MediaFile, error) {
	where := "WHERE entity_name = ? AND entity_id = ?"
	if !includeDeleted {
		where += " AND is_deleted = 0"
	}
	return db.queryMedia(ctx, where, entityName, entityID)
}

// GetPendingSyncMediaFiles returns media records waiting for upload or
// deletion settlement
func (db *DB) GetPendingSyncMediaFiles(ctx context.Context) ([]*MediaFile, error) {
	return db.queryMedia(ctx, "WHERE pending_sync = 1")
}

// GetPendingMediaPaths returns the local paths of records not yet uploaded
func (db *DB) GetPendingMediaPaths(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT local_path FROM media_files WHERE pending_sync = 1 AND local_path != ''",
	)
	if err != nil {
		return nil, wrap("query", "media_files", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrap("scan", "media_files", err)
		}
		paths = append(paths, p)
	}
	return paths, wrap("query", "media_files", rows.Err())
}

// SetMediaBlobURL records where the server stored the file. It does not touch
// pending_sync or the revision; clearing the flag is MarkSyncedAt's job.
func (db *DB) SetMediaBlobURL(ctx context.Context, id int64, blobURL string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE media_files SET blob_url = ?, uploaded_at = ? WHERE media_id = ?",
		blobURL, formatTime(nowPtr()), id,
	)
	return wrap("set blob url", "media_files", err)
}

// UpdateMediaFile is the read-merge-write path for media records
func (db *DB) UpdateMediaFile(ctx context.Context, id int64, fn func(*MediaFile) error) (*MediaFile, error) {
	m, err := readMergeWrite(ctx, db, id,
		getMedia,
		func(m *MediaFile) error {
			if err := fn(m); err != nil {
				return err
			}
			m.MediaID = id
			return nil
		},
		func(ctx context.Context, q queryer, m *MediaFile) error {
			return upsertMedia(ctx, q, m, writeOptions{})
		},
	)
	return m, wrap("update", "media_files", err)
}

// DeleteMediaFile soft-deletes the record: the row stays, flagged deleted and
// pending again. Deleting an uploaded file also records a tombstone.
// Returns ErrRecordNotFound if the record does not exist.
func (db *DB) DeleteMediaFile(ctx context.Context, id int64) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMedia(ctx, tx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrRecordNotFound
		}
		if m.IsDeleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE media_files
			SET is_deleted = 1, pending_sync = 1, local_rev = local_rev + 1
			WHERE media_id = ?
		`, id); err != nil {
			return err
		}
		if m.BlobURL == "" {
			return nil
		}
		return recordTombstone(ctx, tx, KindMediaFile, id)
	})
	return wrap("delete", "media_files", err)
}

// HardDeleteMediaFile removes the row entirely. The local file is left to
// the caller.
func (db *DB) HardDeleteMediaFile(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM media_files WHERE media_id = ?", id)
	return wrap("hard delete", "media_files", err)
}

// MarkMediaFilesSynced clears pending_sync on the given records
func (db *DB) MarkMediaFilesSynced(ctx context.Context, ids ...int64) error {
	_, err := db.MarkSyncedAt(ctx, KindMediaFile, marksFor(ids))
	return err
}
