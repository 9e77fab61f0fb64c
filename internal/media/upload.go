package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
)

// UploadOptions controls one UploadPendingPhotos pass
type UploadOptions struct {
	// Progress is called after each record is processed
	Progress func(done, total int)
}

// UploadResult summarises an upload pass. Partial success is normal: one
// failed file never stops the others.
type UploadResult struct {
	Success   bool
	Uploaded  int
	Discarded int
	Skipped   int
	Errors    []UploadFailure
}

// Err returns a *PartialUploadError when any file failed, else nil
func (r *UploadResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return newPartialUploadError(r.Uploaded, r.Errors)
}

// UploadPendingPhotos uploads every pending media record. Soft-deleted
// records are settled without an upload. Photos whose owner still has a
// local-only id stay pending and are counted as Skipped; they go up once the
// data sync has remapped the owner. The error return is reserved for failing
// to read the pending set; per-file failures land in the result.
func (m *Manager) UploadPendingPhotos(ctx context.Context, opts UploadOptions) (*UploadResult, error) {
	pending, err := m.store.GetPendingSyncMediaFiles(ctx)
	if err != nil {
		return nil, err
	}

	res := &UploadResult{}
	for i, rec := range pending {
		if err := ctx.Err(); err != nil {
			for _, rest := range pending[i:] {
				res.Errors = append(res.Errors, UploadFailure{MediaID: rest.MediaID, FileName: rest.FileName, Err: err})
			}
			break
		}

		switch {
		case rec.IsDeleted:
			if err := m.settleDeleted(ctx, rec); err != nil {
				res.Errors = append(res.Errors, UploadFailure{MediaID: rec.MediaID, FileName: rec.FileName, Err: err})
			} else {
				res.Discarded++
			}
		case db.IsLocalID(rec.EntityID):
			res.Skipped++
		default:
			if err := m.uploadOne(ctx, rec); err != nil {
				slog.Warn("photo upload failed", "media_id", rec.MediaID, "file", rec.FileName, "error", err)
				res.Errors = append(res.Errors, UploadFailure{MediaID: rec.MediaID, FileName: rec.FileName, Err: err})
			} else {
				res.Uploaded++
			}
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(pending))
		}
	}

	res.Success = len(res.Errors) == 0
	slog.Info("photo upload pass finished",
		"uploaded", res.Uploaded,
		"discarded", res.Discarded,
		"skipped", res.Skipped,
		"failed", len(res.Errors))
	return res, nil
}

func (m *Manager) uploadOne(ctx context.Context, rec *db.MediaFile) error {
	if rec.LocalPath == "" {
		return &MediaError{Op: "upload", Path: rec.FileName, Err: fmt.Errorf("no local file")}
	}
	content, err := afero.ReadFile(m.fs, rec.LocalPath)
	if err != nil {
		return &MediaError{Op: "read", Path: rec.LocalPath, Err: err}
	}

	blobURL, err := m.remote.UploadMedia(ctx, &syncclient.UploadRequest{
		FileName:   rec.FileName,
		FileType:   rec.FileType,
		EntityName: rec.EntityName,
		EntityID:   rec.EntityID,
		Base64Data: base64.StdEncoding.EncodeToString(content),
		Metadata:   rec.Metadata,
	})
	if err != nil {
		return err
	}

	if err := m.store.SetMediaBlobURL(ctx, rec.MediaID, blobURL); err != nil {
		return err
	}
	if _, err := m.store.MarkSyncedAt(ctx, db.KindMediaFile, []db.SyncMark{{ID: rec.MediaID, Rev: rec.Rev}}); err != nil {
		return err
	}

	slog.Debug("photo uploaded", "media_id", rec.MediaID, "blob_url", blobURL)
	return nil
}

// settleDeleted clears a soft-deleted record without uploading it. Removal
// of an already uploaded blob travels as a tombstone with the data sync.
func (m *Manager) settleDeleted(ctx context.Context, rec *db.MediaFile) error {
	_, err := m.store.MarkSyncedAt(ctx, db.KindMediaFile, []db.SyncMark{{ID: rec.MediaID, Rev: rec.Rev}})
	return err
}
