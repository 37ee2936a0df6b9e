package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inkroom/internal/database/testutil"
	"github.com/charlesng35/inkroom/internal/models"
	"github.com/charlesng35/inkroom/internal/storage"
	storagetest "github.com/charlesng35/inkroom/internal/storage/testutil"
	"github.com/charlesng35/inkroom/internal/whiteboard"
	apperrors "github.com/charlesng35/inkroom/pkg/errors"
)

type announcement struct {
	SessionID  string
	UploaderID string
	FileName   string
	FileURL    string
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	names map[string]string
	sent  []announcement
}

func (f *fakeAnnouncer) UploaderName(connID string) string {
	if name, ok := f.names[connID]; ok {
		return name
	}
	return "Someone"
}

func (f *fakeAnnouncer) AnnounceFile(sessionID, uploaderID, fileName, fileURL string) whiteboard.FileShared {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, announcement{sessionID, uploaderID, fileName, fileURL})
	return whiteboard.FileShared{FileName: fileName, FileURL: fileURL, Uploader: f.UploaderName(uploaderID)}
}

func (f *fakeAnnouncer) announcements() []announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]announcement(nil), f.sent...)
}

type failingStore struct {
	storage.BlobStore
	putErr error
}

func (f failingStore) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if f.putErr != nil {
		return storage.ObjectInfo{}, f.putErr
	}
	return f.BlobStore.Put(ctx, key, body, opts)
}

var fixedNow = time.UnixMilli(1700000000000).UTC()

func newFileServiceFixture(t *testing.T, cfg FileServiceConfig) (*FileService, *storage.FilesystemStore, *fakeAnnouncer) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	announcer := &fakeAnnouncer{names: map[string]string{"conn-alice": "Alice"}}

	svc, err := NewFileService(db, blobs, announcer, cfg, WithFileClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return svc, blobs, announcer
}

func TestNewFileServiceRequiresDependencies(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewFileService(nil, blobs, &fakeAnnouncer{}, FileServiceConfig{})
	require.Error(t, err)
	_, err = NewFileService(db, nil, &fakeAnnouncer{}, FileServiceConfig{})
	require.Error(t, err)
	_, err = NewFileService(db, blobs, nil, FileServiceConfig{})
	require.Error(t, err)
}

func TestFileServiceUploadStoresRecordsAndAnnounces(t *testing.T) {
	svc, blobs, announcer := newFileServiceFixture(t, FileServiceConfig{PublicPrefix: "/uploads/"})

	result, err := svc.Upload(context.Background(), UploadInput{
		SessionID:  "s1",
		UploaderID: "conn-alice",
		FileName:   "notes v2.pdf",
		Size:       5,
		Body:       strings.NewReader("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, "notes v2.pdf", result.FileName)
	require.Equal(t, "/uploads/1700000000000_notes_v2.pdf", result.FileURL)

	exists, err := blobs.Exists(context.Background(), "1700000000000_notes_v2.pdf")
	require.NoError(t, err)
	require.True(t, exists)

	files, err := svc.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "Alice", files[0].UploaderName)
	require.Equal(t, "application/pdf", files[0].ContentType)
	require.EqualValues(t, 5, files[0].Size)

	require.Equal(t, []announcement{{
		SessionID:  "s1",
		UploaderID: "conn-alice",
		FileName:   "notes v2.pdf",
		FileURL:    "/uploads/1700000000000_notes_v2.pdf",
	}}, announcer.announcements())
}

func TestFileServiceUploadAvoidsKeyCollisions(t *testing.T) {
	svc, _, _ := newFileServiceFixture(t, FileServiceConfig{})

	first, err := svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt", Body: strings.NewReader("1")})
	require.NoError(t, err)
	second, err := svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt", Body: strings.NewReader("2")})
	require.NoError(t, err)

	require.Equal(t, "/uploads/1700000000000_a.txt", first.FileURL)
	require.Equal(t, "/uploads/1700000000001_a.txt", second.FileURL)
}

func TestFileServiceUploadRejections(t *testing.T) {
	svc, _, announcer := newFileServiceFixture(t, FileServiceConfig{MaxUploadBytes: 4})

	_, err := svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt"})
	require.ErrorIs(t, err, apperrors.ErrNoFile)

	_, err = svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt", Size: 10, Body: strings.NewReader("0123456789")})
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	// no declared size; a seekable body is measured before anything is stored
	_, err = svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "b.txt", Body: bytes.NewReader(make([]byte, 64))})
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)
	_, _, err = svc.Open(context.Background(), "1700000000000_b.txt")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// a streaming body is capped while stored, then discarded
	_, err = svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "c.txt", Body: iotest.OneByteReader(bytes.NewReader(make([]byte, 64)))})
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)
	_, _, err = svc.Open(context.Background(), "1700000000000_c.txt")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.Empty(t, announcer.announcements())
}

func TestFileServiceConcurrentUploadsKeepTheirOwnBytes(t *testing.T) {
	svc, blobs, announcer := newFileServiceFixture(t, FileServiceConfig{})
	ctx := context.Background()

	type outcome struct {
		result UploadResult
		err    error
	}
	slowBody, slowWriter := io.Pipe()
	slowDone := make(chan outcome, 1)
	go func() {
		result, err := svc.Upload(ctx, UploadInput{SessionID: "s", FileName: "pic.png", Body: slowBody})
		slowDone <- outcome{result, err}
	}()

	// the slow upload holds the first key while its body is still arriving
	require.Eventually(t, func() bool {
		taken, err := blobs.Exists(ctx, "1700000000000_pic.png")
		return err == nil && taken
	}, 3*time.Second, 5*time.Millisecond)

	fast, err := svc.Upload(ctx, UploadInput{SessionID: "s", FileName: "pic.png", Body: strings.NewReader("FAST")})
	require.NoError(t, err)
	require.Equal(t, "/uploads/1700000000001_pic.png", fast.FileURL)

	_, err = slowWriter.Write([]byte("SLOW-CONTENT"))
	require.NoError(t, err)
	require.NoError(t, slowWriter.Close())

	var slow outcome
	select {
	case slow = <-slowDone:
	case <-time.After(3 * time.Second):
		t.Fatal("slow upload did not finish")
	}
	require.NoError(t, slow.err)
	require.Equal(t, "/uploads/1700000000000_pic.png", slow.result.FileURL)

	requireServed(t, svc, fast.FileURL, "FAST")
	requireServed(t, svc, slow.result.FileURL, "SLOW-CONTENT")
	require.Len(t, announcer.announcements(), 2)
}

func TestFileServiceUploadSkipsKeyHeldByStaleLedgerRow(t *testing.T) {
	svc, blobs, announcer := newFileServiceFixture(t, FileServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.db.Create(&models.SharedFile{
		SessionID: "old",
		Key:       "1700000000000_a.txt",
		FileName:  "a.txt",
	}).Error)

	result, err := svc.Upload(ctx, UploadInput{SessionID: "s", FileName: "a.txt", Body: strings.NewReader("fresh")})
	require.NoError(t, err)
	require.Equal(t, "/uploads/1700000000001_a.txt", result.FileURL)
	requireServed(t, svc, result.FileURL, "fresh")

	orphan, err := blobs.Exists(ctx, "1700000000000_a.txt")
	require.NoError(t, err)
	require.False(t, orphan)
	require.Len(t, announcer.announcements(), 1)
}

// conflictingStore reads the whole body and then reports the first key as taken, the way a
// conditional write fails only once the upload completes.
type conflictingStore struct {
	storage.BlobStore
	conflicts int
}

func (c *conflictingStore) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if c.conflicts > 0 {
		c.conflicts--
		_, _ = io.Copy(io.Discard, body)
		return storage.ObjectInfo{}, storage.ErrExists
	}
	return c.BlobStore.Put(ctx, key, body, opts)
}

func TestFileServiceUploadRetriesAfterLateConflict(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	store := &conflictingStore{BlobStore: blobs, conflicts: 1}

	svc, err := NewFileService(db, store, &fakeAnnouncer{}, FileServiceConfig{}, WithFileClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	result, err := svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt", Body: strings.NewReader("rewound")})
	require.NoError(t, err)
	require.Equal(t, "/uploads/1700000000001_a.txt", result.FileURL)
	requireServed(t, svc, result.FileURL, "rewound")

	// a streaming body cannot be replayed
	store.conflicts = 1
	_, err = svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "b.txt", Body: iotest.OneByteReader(strings.NewReader("gone"))})
	require.ErrorIs(t, err, apperrors.ErrUploadFailed)
	require.ErrorIs(t, err, errBodyConsumed)
}

func TestFileServiceUploadToS3(t *testing.T) {
	backend, endpoint := storagetest.NewFakeS3(t)
	blobs, err := storage.NewS3Store(context.Background(), storage.S3Config{
		Bucket:          "inkroom",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	announcer := &fakeAnnouncer{names: map[string]string{"conn-alice": "Alice"}}
	svc, err := NewFileService(db, blobs, announcer, FileServiceConfig{MaxUploadBytes: 25 << 20},
		WithFileClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	seekable, err := svc.Upload(context.Background(), UploadInput{
		SessionID:  "s",
		UploaderID: "conn-alice",
		FileName:   "board.png",
		Body:       strings.NewReader("PNGDATA"),
	})
	require.NoError(t, err)
	require.Equal(t, "/uploads/1700000000000_board.png", seekable.FileURL)

	streamed, err := svc.Upload(context.Background(), UploadInput{
		SessionID: "s",
		FileName:  "board.png",
		Body:      iotest.OneByteReader(strings.NewReader("STREAMED")),
	})
	require.NoError(t, err)
	require.Equal(t, "/uploads/1700000000001_board.png", streamed.FileURL)

	require.Equal(t, []string{"inkroom/1700000000000_board.png", "inkroom/1700000000001_board.png"}, backend.Keys())
	requireServed(t, svc, seekable.FileURL, "PNGDATA")
	requireServed(t, svc, streamed.FileURL, "STREAMED")

	files, err := svc.List(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Len(t, announcer.announcements(), 2)
}

func requireServed(t *testing.T, svc *FileService, fileURL, want string) {
	t.Helper()
	reader, _, err := svc.Open(context.Background(), strings.TrimPrefix(fileURL, "/uploads/"))
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, reader.Close())
	require.NoError(t, err)
	require.Equal(t, want, string(body))
}

func TestFileServiceUploadStorageFailure(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	announcer := &fakeAnnouncer{}

	svc, err := NewFileService(db, failingStore{BlobStore: blobs, putErr: errors.New("disk full")}, announcer, FileServiceConfig{})
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt", Body: strings.NewReader("x")})
	require.ErrorIs(t, err, apperrors.ErrUploadFailed)
	require.Contains(t, err.Error(), "disk full")
	require.Empty(t, announcer.announcements())
}

func TestFileServiceUploadRemovesBlobWhenLedgerFails(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	announcer := &fakeAnnouncer{}

	// without migrations the insert fails
	svc, err := NewFileService(db, blobs, announcer, FileServiceConfig{}, WithFileClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: "a.txt", Body: strings.NewReader("x")})
	require.ErrorIs(t, err, apperrors.ErrUploadFailed)

	exists, err := blobs.Exists(context.Background(), "1700000000000_a.txt")
	require.NoError(t, err)
	require.False(t, exists)
	require.Empty(t, announcer.announcements())
}

func TestFileServiceOpen(t *testing.T) {
	svc, blobs, _ := newFileServiceFixture(t, FileServiceConfig{})

	result, err := svc.Upload(context.Background(), UploadInput{
		SessionID:   "s",
		FileName:    "diagram.bin",
		ContentType: "image/png",
		Body:        strings.NewReader("png"),
	})
	require.NoError(t, err)
	key := strings.TrimPrefix(result.FileURL, "/uploads/")

	reader, record, err := svc.Open(context.Background(), key)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, reader.Close())
	require.NoError(t, err)
	require.Equal(t, "png", string(body))
	require.Equal(t, "image/png", record.ContentType)
	require.Equal(t, "diagram.bin", record.FileName)

	_, err = blobs.Put(context.Background(), "orphan.txt", strings.NewReader("o"), storage.PutOptions{})
	require.NoError(t, err)
	reader, record, err = svc.Open(context.Background(), "orphan.txt")
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, "orphan.txt", record.FileName)
	require.True(t, strings.HasPrefix(record.ContentType, "text/plain"))

	_, _, err = svc.Open(context.Background(), "missing.txt")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, _, err = svc.Open(context.Background(), "..")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFileServiceListNewestFirst(t *testing.T) {
	svc, _, _ := newFileServiceFixture(t, FileServiceConfig{})

	for _, name := range []string{"old.txt", "new.txt"} {
		_, err := svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: name, Body: strings.NewReader(name)})
		require.NoError(t, err)
	}
	_, err := svc.Upload(context.Background(), UploadInput{SessionID: "other", FileName: "x.txt", Body: strings.NewReader("x")})
	require.NoError(t, err)

	require.NoError(t, svc.db.Model(&models.SharedFile{}).Where("file_name = ?", "old.txt").
		Update("created_at", fixedNow.Add(-time.Hour)).Error)
	require.NoError(t, svc.db.Model(&models.SharedFile{}).Where("file_name = ?", "new.txt").
		Update("created_at", fixedNow).Error)

	files, err := svc.List(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "new.txt", files[0].FileName)
	require.Equal(t, "old.txt", files[1].FileName)

	files, err = svc.List(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestFileServicePrune(t *testing.T) {
	svc, blobs, _ := newFileServiceFixture(t, FileServiceConfig{Retention: 24 * time.Hour})

	for _, name := range []string{"stale.txt", "fresh.txt"} {
		_, err := svc.Upload(context.Background(), UploadInput{SessionID: "s", FileName: name, Body: strings.NewReader(name)})
		require.NoError(t, err)
	}
	require.NoError(t, svc.db.Model(&models.SharedFile{}).Where("file_name = ?", "stale.txt").
		Update("created_at", fixedNow.Add(-48*time.Hour)).Error)
	require.NoError(t, svc.db.Model(&models.SharedFile{}).Where("file_name = ?", "fresh.txt").
		Update("created_at", fixedNow.Add(-time.Hour)).Error)

	removed, err := svc.Prune(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	files, err := svc.List(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "fresh.txt", files[0].FileName)

	exists, err := blobs.Exists(context.Background(), files[0].Key)
	require.NoError(t, err)
	require.True(t, exists)

	keep, _, _ := newFileServiceFixture(t, FileServiceConfig{})
	removed, err = keep.Prune(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestIsDuplicateKeyError(t *testing.T) {
	require.False(t, isDuplicateKeyError(nil))
	require.True(t, isDuplicateKeyError(errors.New("UNIQUE constraint failed: shared_files.key")))
	require.False(t, isDuplicateKeyError(errors.New("NOT NULL constraint failed: shared_files.key")))
}
