package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/inkroom/internal/models"
	"github.com/charlesng35/inkroom/internal/storage"
	"github.com/charlesng35/inkroom/internal/whiteboard"
	apperrors "github.com/charlesng35/inkroom/pkg/errors"
	"github.com/charlesng35/inkroom/pkg/logger"
	"github.com/charlesng35/inkroom/pkg/metrics"
)

const maxKeyAttempts = 5

var errTooLarge = errors.New("upload exceeds size limit")

// FileAnnouncer publishes shared files to a whiteboard session.
type FileAnnouncer interface {
	UploaderName(connID string) string
	AnnounceFile(sessionID, uploaderID, fileName, fileURL string) whiteboard.FileShared
}

// FileServiceConfig controls upload limits and how stored files are addressed.
type FileServiceConfig struct {
	PublicPrefix   string
	MaxUploadBytes int64
	Retention      time.Duration
}

// FileServiceOption customises a FileService.
type FileServiceOption func(*FileService)

// WithFileClock overrides the clock used to build keys and prune cut-offs.
func WithFileClock(now func() time.Time) FileServiceOption {
	return func(s *FileService) {
		if now != nil {
			s.now = now
		}
	}
}

// FileService stores uploaded files, records them in the ledger and announces them.
type FileService struct {
	db        *gorm.DB
	blobs     storage.BlobStore
	announcer FileAnnouncer
	cfg       FileServiceConfig
	now       func() time.Time
	log       *zap.Logger
}

// UploadInput describes a single uploaded file.
type UploadInput struct {
	SessionID   string
	UploaderID  string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadResult is returned to the uploader once a file is stored.
type UploadResult struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
}

// NewFileService constructs a FileService.
func NewFileService(db *gorm.DB, blobs storage.BlobStore, announcer FileAnnouncer, cfg FileServiceConfig, opts ...FileServiceOption) (*FileService, error) {
	if db == nil {
		return nil, errors.New("file service: db is required")
	}
	if blobs == nil {
		return nil, errors.New("file service: blob store is required")
	}
	if announcer == nil {
		return nil, errors.New("file service: announcer is required")
	}

	cfg.PublicPrefix = "/" + strings.Trim(strings.TrimSpace(cfg.PublicPrefix), "/")
	if cfg.PublicPrefix == "/" {
		cfg.PublicPrefix = "/uploads"
	}

	svc := &FileService{
		db:        db,
		blobs:     blobs,
		announcer: announcer,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.WithModule("files"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PublicURL returns the URL under which key is served.
func (s *FileService) PublicURL(key string) string {
	return path.Join(s.cfg.PublicPrefix, key)
}

// Upload stores the file, records it and broadcasts fileShared to the session.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if s == nil {
		return UploadResult{}, errors.New("file service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	if in.Body == nil || strings.TrimSpace(in.FileName) == "" {
		metrics.Uploads.WithLabelValues("no_file").Inc()
		return UploadResult{}, apperrors.ErrNoFile
	}

	body, err := newUploadBody(in.Body)
	if err != nil {
		return UploadResult{}, s.uploadFailed(fmt.Errorf("measure body: %w", err))
	}
	if s.tooLarge(in.Size) || s.tooLarge(body.size) {
		metrics.Uploads.WithLabelValues("too_large").Inc()
		return UploadResult{}, apperrors.ErrFileTooLarge
	}

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeFor(in.FileName)
	}

	record, err := s.storeAndRecord(ctx, in, contentType, body)
	switch {
	case errors.Is(err, errTooLarge):
		metrics.Uploads.WithLabelValues("too_large").Inc()
		return UploadResult{}, apperrors.ErrFileTooLarge
	case err != nil:
		return UploadResult{}, s.uploadFailed(err)
	}

	s.announcer.AnnounceFile(in.SessionID, in.UploaderID, record.FileName, record.URL)

	metrics.Uploads.WithLabelValues("success").Inc()
	metrics.UploadBytes.Observe(float64(record.Size))
	s.log.Info("file uploaded",
		zap.String("session_id", in.SessionID),
		zap.String("key", record.Key),
		zap.Int64("size", record.Size),
	)

	return UploadResult{FileName: record.FileName, FileURL: record.URL}, nil
}

// storeAndRecord claims a free key in both the blob store and the ledger. A key lost to a
// concurrent upload, or still held by a stale ledger row, moves on to the next millisecond.
func (s *FileService) storeAndRecord(ctx context.Context, in UploadInput, contentType string, body *uploadBody) (*models.SharedFile, error) {
	fileName := strings.TrimSpace(in.FileName)
	uploaderName := s.announcer.UploaderName(in.UploaderID)
	size := in.Size
	if body.size >= 0 {
		size = body.size
	}

	now := s.now()
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := storage.NewKey(now.Add(time.Duration(attempt)*time.Millisecond), fileName)
		exists, err := s.blobs.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check key: %w", err)
		}
		if exists {
			continue
		}

		info, err := s.blobs.Put(ctx, key, body.reader(s.cfg.MaxUploadBytes), storage.PutOptions{ContentType: contentType, Size: size})
		if errors.Is(err, storage.ErrExists) {
			if err := body.rewind(); err != nil {
				return nil, fmt.Errorf("retry after collision on %s: %w", key, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store blob: %w", err)
		}
		if s.tooLarge(info.Size) {
			s.discard(ctx, key)
			return nil, errTooLarge
		}

		record := &models.SharedFile{
			SessionID:    in.SessionID,
			Key:          key,
			FileName:     fileName,
			ContentType:  contentType,
			Size:         info.Size,
			UploaderID:   in.UploaderID,
			UploaderName: uploaderName,
			URL:          s.PublicURL(key),
		}
		err = s.db.WithContext(ctx).Create(record).Error
		if err == nil {
			return record, nil
		}
		s.discard(ctx, key)
		if !isDuplicateKeyError(err) {
			return nil, fmt.Errorf("record upload: %w", err)
		}
		s.log.Warn("ledger already holds key", zap.String("key", key))
		if err := body.rewind(); err != nil {
			return nil, fmt.Errorf("retry after collision on %s: %w", key, err)
		}
	}
	return nil, fmt.Errorf("no free key for %q after %d attempts", fileName, maxKeyAttempts)
}

// List returns the files shared in a session, newest first.
func (s *FileService) List(ctx context.Context, sessionID string) ([]models.SharedFile, error) {
	if s == nil {
		return nil, errors.New("file service: service not initialised")
	}

	var files []models.SharedFile
	err := s.db.WithContext(ensuredContext(ctx)).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("file service: list files: %w", err)
	}
	return files, nil
}

// Open returns the stored blob for key along with its ledger record when one exists.
// Blobs without a ledger record are still served, with a content type derived from the key.
func (s *FileService) Open(ctx context.Context, key string) (io.ReadCloser, models.SharedFile, error) {
	if s == nil {
		return nil, models.SharedFile{}, errors.New("file service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	reader, info, err := s.blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, models.SharedFile{}, apperrors.ErrNotFound
		}
		return nil, models.SharedFile{}, fmt.Errorf("file service: open blob: %w", err)
	}

	var record models.SharedFile
	err = s.db.WithContext(ctx).Where(&models.SharedFile{Key: key}).First(&record).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.SharedFile{Key: key, FileName: key, Size: info.Size}
	default:
		_ = reader.Close()
		return nil, models.SharedFile{}, fmt.Errorf("file service: load record: %w", err)
	}

	if record.ContentType == "" {
		record.ContentType = info.ContentType
	}
	if record.ContentType == "" {
		record.ContentType = storage.ContentTypeFor(key)
	}
	return reader, record, nil
}

// Prune deletes files older than the configured retention. A zero retention keeps everything.
func (s *FileService) Prune(ctx context.Context) (int, error) {
	if s == nil || s.cfg.Retention <= 0 {
		return 0, nil
	}
	return s.PruneOlderThan(ctx, s.now().Add(-s.cfg.Retention))
}

// PruneOlderThan deletes blobs and ledger rows created before cutoff.
func (s *FileService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil {
		return 0, errors.New("file service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	var expired []models.SharedFile
	if err := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("file service: find expired files: %w", err)
	}

	var (
		removed int
		errs    error
	)
	for _, file := range expired {
		if err := s.blobs.Delete(ctx, file.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("delete blob %s: %w", file.Key, err))
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&models.SharedFile{}, "id = ?", file.ID).Error; err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete record %s: %w", file.ID, err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("pruned shared files", zap.Int("count", removed), zap.Time("cutoff", cutoff))
	}
	return removed, errs
}

func (s *FileService) tooLarge(size int64) bool {
	return s.cfg.MaxUploadBytes > 0 && size > s.cfg.MaxUploadBytes
}

func (s *FileService) discard(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.log.Warn("failed to remove orphaned blob", zap.String("key", key), zap.Error(err))
	}
}

func (s *FileService) uploadFailed(err error) error {
	metrics.Uploads.WithLabelValues("failure").Inc()
	s.log.Error("upload failed", zap.Error(err))
	return apperrors.ErrUploadFailed.WithInternal(err)
}
