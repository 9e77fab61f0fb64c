// Package media stores captured photos on the device, tracks them as
// MediaFile records owned by an appointment, master or item, and moves them
// to and from the server's blob storage.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/session"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
)

// Remote is the part of the sync API the manager needs
type Remote interface {
	UploadMedia(ctx context.Context, req *syncclient.UploadRequest) (string, error)
	ListMedia(ctx context.Context, entityName string, entityID int64) ([]syncclient.RemoteMedia, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures where and which photos are stored
type Options struct {
	Dir             string
	IncludePatterns []string
	MaxFileSize     int64
}

// Manager owns the media directory and the media_files table
type Manager struct {
	store   *db.DB
	fs      afero.Fs
	remote  Remote
	session *session.Session
	opts    Options
	now     func() time.Time
}

// NewManager creates a media manager. The media directory is created on
// first save, not here.
func NewManager(store *db.DB, fs afero.Fs, remote Remote, sess *session.Session, opts Options) *Manager {
	return &Manager{
		store:   store,
		fs:      fs,
		remote:  remote,
		session: sess,
		opts:    opts,
		now:     time.Now,
	}
}

// Dir returns the media directory
func (m *Manager) Dir() string {
	return m.opts.Dir
}

// SavePhoto copies the image at sourcePath into the media directory and
// records it as a pending MediaFile owned by owner. Saving a photo for an
// assessment item also sets the item's has-photo flag.
func (m *Manager) SavePhoto(ctx context.Context, sourcePath string, owner Owner, metadata map[string]any) (*db.MediaFile, error) {
	if owner.ID == 0 {
		return nil, &MediaError{Op: "save", Path: sourcePath, Err: ErrInvalidOwnerID}
	}

	info, err := m.fs.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &MediaError{Op: "save", Path: sourcePath, Err: ErrSourceMissing}
		}
		return nil, &MediaError{Op: "save", Path: sourcePath, Err: err}
	}
	if info.IsDir() {
		return nil, &MediaError{Op: "save", Path: sourcePath, Err: fmt.Errorf("source is a directory")}
	}
	if m.opts.MaxFileSize > 0 && info.Size() > m.opts.MaxFileSize {
		return nil, &MediaError{Op: "save", Path: sourcePath, Err: ErrFileTooLarge}
	}
	if !m.included(filepath.Base(sourcePath)) {
		return nil, &MediaError{Op: "save", Path: sourcePath, Err: ErrNotIncluded}
	}

	content, err := afero.ReadFile(m.fs, sourcePath)
	if err != nil {
		return nil, &MediaError{Op: "read", Path: sourcePath, Err: err}
	}

	mtype := mimetype.Detect(content)
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext == "" {
		ext = mtype.Extension()
	}

	if err := m.fs.MkdirAll(m.opts.Dir, 0755); err != nil {
		return nil, &MediaError{Op: "mkdir", Path: m.opts.Dir, Err: err}
	}

	dst, fileName, err := m.uniqueName(owner, ext)
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(m.fs, dst, content, 0644); err != nil {
		return nil, &MediaError{Op: "copy", Path: dst, Err: err}
	}

	meta := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["checksum"] = HashContent(content)
	meta["originalName"] = filepath.Base(sourcePath)
	meta["sizeBytes"] = info.Size()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		_ = m.fs.Remove(dst)
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	rec := &db.MediaFile{
		FileName:   fileName,
		FileType:   mtype.String(),
		EntityName: owner.EntityName(),
		EntityID:   owner.ID,
		UploadedBy: m.session.UserID(),
		Metadata:   metaJSON,
		LocalPath:  dst,
	}
	if err := m.store.InsertOrReplaceMediaFile(ctx, rec); err != nil {
		_ = m.fs.Remove(dst)
		return nil, err
	}

	if owner.Kind == OwnerAssessmentItem {
		m.flagItemPhoto(ctx, owner.ID)
	}

	saved, err := m.store.GetMediaFileByID(ctx, rec.MediaID)
	if err != nil {
		return nil, err
	}

	slog.Info("photo saved", "owner", owner.String(), "file", fileName, "type", rec.FileType)
	return saved, nil
}

func (m *Manager) flagItemPhoto(ctx context.Context, itemID int64) {
	item, err := m.store.GetAssessmentItemByID(ctx, itemID)
	if err != nil || item == nil || item.HasPhoto {
		return
	}
	if _, err := m.store.UpdateAssessmentItem(ctx, itemID, func(it *db.AssessmentItem) error {
		it.HasPhoto = true
		return nil
	}); err != nil {
		slog.Warn("failed to flag item photo", "item", itemID, "error", err)
	}
}

// uniqueName builds {entityName}_{entityId}_{unixMillis}{ext}, bumping the
// timestamp until the name is free. Owners with a local-only id get "local"
// in place of the id, since that id is replaced on sync. The name is fixed at
// capture; the owner link lives in the entity columns.
func (m *Manager) uniqueName(owner Owner, ext string) (string, string, error) {
	ts := m.now().UnixMilli()
	ownerID := strconv.FormatInt(owner.ID, 10)
	if db.IsLocalID(owner.ID) {
		ownerID = "local"
	}
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("%s_%s_%d%s", owner.EntityName(), ownerID, ts+int64(i), ext)
		dst := filepath.Join(m.opts.Dir, name)
		exists, err := afero.Exists(m.fs, dst)
		if err != nil {
			return "", "", &MediaError{Op: "stat", Path: dst, Err: err}
		}
		if !exists {
			return dst, name, nil
		}
	}
	return "", "", &MediaError{Op: "save", Path: m.opts.Dir, Err: fmt.Errorf("no free file name for %s", owner)}
}

func (m *Manager) included(name string) bool {
	if len(m.opts.IncludePatterns) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, pattern := range m.opts.IncludePatterns {
		if ok, err := doublestar.Match(pattern, lower); err == nil && ok {
			return true
		}
	}
	return false
}

// GetPhotosForEntity returns the photos attached to owner
func (m *Manager) GetPhotosForEntity(ctx context.Context, owner Owner, includeDeleted bool) ([]*db.MediaFile, error) {
	return m.store.GetMediaFilesForEntity(ctx, owner.EntityName(), owner.ID, includeDeleted)
}

// DeletePhoto soft-deletes the photo record. The local file is kept until
// cleanup.
func (m *Manager) DeletePhoto(ctx context.Context, id int64) error {
	if err := m.store.DeleteMediaFile(ctx, id); err != nil {
		return err
	}
	slog.Info("photo deleted", "media_id", id)
	return nil
}

// PendingCount returns how many media records await upload
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountPending(ctx, db.KindMediaFile)
}
