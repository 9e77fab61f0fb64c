package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
)

// DownloadPhotosForEntity pulls the server's photos for owner that are not
// on the device yet and records them as clean rows. If the server listing
// fails, the locally known photos are returned instead.
func (m *Manager) DownloadPhotosForEntity(ctx context.Context, owner Owner) ([]*db.MediaFile, error) {
	remote, err := m.remote.ListMedia(ctx, owner.EntityName(), owner.ID)
	if err != nil {
		slog.Warn("media listing failed, using local photos", "owner", owner.String(), "error", err)
		return m.GetPhotosForEntity(ctx, owner, false)
	}

	if err := m.fs.MkdirAll(m.opts.Dir, 0755); err != nil {
		return nil, &MediaError{Op: "mkdir", Path: m.opts.Dir, Err: err}
	}

	downloaded := 0
	for _, rm := range remote {
		if rm.IsDeleted {
			continue
		}
		if err := m.downloadOne(ctx, owner, rm); err != nil {
			slog.Warn("photo download failed", "owner", owner.String(), "file", rm.FileName, "error", err)
			continue
		}
		downloaded++
	}

	slog.Info("photos downloaded", "owner", owner.String(), "listed", len(remote), "processed", downloaded)
	return m.GetPhotosForEntity(ctx, owner, false)
}

func (m *Manager) downloadOne(ctx context.Context, owner Owner, rm syncclient.RemoteMedia) error {
	name := filepath.Base(rm.FileName)
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		return fmt.Errorf("invalid remote file name %q", rm.FileName)
	}
	dst := filepath.Join(m.opts.Dir, name)

	existing, err := m.store.GetMediaFileByName(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil && (existing.PendingSync || existing.IsDeleted) {
		// local changes win until they are uploaded
		return nil
	}

	exists, err := afero.Exists(m.fs, dst)
	if err != nil {
		return &MediaError{Op: "stat", Path: dst, Err: err}
	}
	if exists && existing != nil {
		return nil
	}

	fileType := rm.FileType
	if !exists {
		if rm.BlobURL == "" {
			return fmt.Errorf("no blob url for %s", name)
		}
		detected, err := m.fetch(ctx, rm.BlobURL, dst)
		if err != nil {
			return err
		}
		if fileType == "" {
			fileType = detected
		}
	}

	rec := &db.MediaFile{
		FileName:   name,
		FileType:   fileType,
		BlobURL:    rm.BlobURL,
		EntityName: owner.EntityName(),
		EntityID:   owner.ID,
		UploadedBy: rm.UploadedBy,
		UploadedAt: rm.UploadedTime(),
		Metadata:   rm.Metadata,
		LocalPath:  dst,
	}
	if existing != nil {
		rec.MediaID = existing.MediaID
	}
	return m.store.InsertOrReplaceMediaFile(ctx, rec, db.AsClean())
}

// fetch streams a blob to dst and returns its detected MIME type
func (m *Manager) fetch(ctx context.Context, url, dst string) (string, error) {
	body, err := m.remote.Download(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp := dst + ".tmp"
	f, err := m.fs.Create(tmp)
	if err != nil {
		return "", &MediaError{Op: "create", Path: tmp, Err: err}
	}

	var src io.Reader = body
	if m.opts.MaxFileSize > 0 {
		src = io.LimitReader(body, m.opts.MaxFileSize+1)
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && m.opts.MaxFileSize > 0 && n > m.opts.MaxFileSize {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = m.fs.Remove(tmp)
		return "", &MediaError{Op: "download", Path: dst, Err: err}
	}

	if err := m.fs.Rename(tmp, dst); err != nil {
		_ = m.fs.Remove(tmp)
		return "", &MediaError{Op: "rename", Path: dst, Err: err}
	}

	detected := ""
	if content, err := afero.ReadFile(m.fs, dst); err == nil {
		detected = mimetype.Detect(content).String()
	}
	return detected, nil
}

// CleanupOldFiles removes media files older than daysOld from the media
// directory. Files still waiting for upload are never removed. Errors are
// logged, not returned. Returns the number of files removed.
func (m *Manager) CleanupOldFiles(ctx context.Context, daysOld int) int {
	if daysOld <= 0 {
		return 0
	}

	keep := make(map[string]bool)
	paths, err := m.store.GetPendingMediaPaths(ctx)
	if err != nil {
		slog.Error("cleanup skipped: cannot read pending media", "error", err)
		return 0
	}
	for _, p := range paths {
		keep[filepath.Clean(p)] = true
	}

	cutoff := m.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	removed := 0

	err = afero.Walk(m.fs, m.opts.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("cleanup walk error", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if keep[filepath.Clean(path)] {
			return nil
		}
		if !m.included(info.Name()) && !strings.HasSuffix(info.Name(), ".tmp") {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := m.fs.Remove(path); err != nil {
			slog.Warn("failed to remove old media file", "path", path, "error", err)
			return nil
		}
		removed++
		slog.Debug("removed old media file", "path", path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		slog.Error("media cleanup failed", "dir", m.opts.Dir, "error", err)
	}

	slog.Info("media cleanup finished", "removed", removed, "days_old", daysOld)
	return removed
}

// StorageStats describes the media directory
type StorageStats struct {
	Files      int
	TotalBytes int64
	Oldest     *time.Time
	Newest     *time.Time
}

// GetStorageStats scans the media directory. Errors are logged and yield
// whatever was counted so far.
func (m *Manager) GetStorageStats() StorageStats {
	var st StorageStats
	err := afero.Walk(m.fs, m.opts.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("stats walk error", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		st.Files++
		st.TotalBytes += info.Size()
		mod := info.ModTime()
		if st.Oldest == nil || mod.Before(*st.Oldest) {
			st.Oldest = &mod
		}
		if st.Newest == nil || mod.After(*st.Newest) {
			st.Newest = &mod
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		slog.Error("failed to read media directory", "dir", m.opts.Dir, "error", err)
	}
	return st
}
