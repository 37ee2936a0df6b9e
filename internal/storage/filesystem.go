package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var _ BlobStore = (*FilesystemStore)(nil)

// FilesystemStore keeps blobs as files in a single directory.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore initialises a filesystem-backed store rooted at dir.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("filesystem store: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem store: ensure root directory: %w", err)
	}
	return &FilesystemStore{root: dir}, nil
}

// Put claims key with an exclusive create, writes body to a temporary file and renames it
// over the claimed name. The body is not read when the key is already taken.
func (s *FilesystemStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	fullPath := s.path(key)
	claim, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrExists, key)
		}
		return ObjectInfo{}, fmt.Errorf("filesystem store: claim %s: %w", key, err)
	}
	_ = claim.Close()
	release := func() { _ = os.Remove(fullPath) }

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		release()
		return ObjectInfo{}, fmt.Errorf("filesystem store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
		release()
	}

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return ObjectInfo{}, fmt.Errorf("filesystem store: write %s: %w", key, err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		cleanup()
		return ObjectInfo{}, fmt.Errorf("filesystem store: rename %s: %w", key, err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("filesystem store: stat %s: %w", key, err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	return ObjectInfo{Key: key, Size: written, ContentType: contentType, ModTime: info.ModTime()}, nil
}

// Open returns a reader for the stored file.
func (s *FilesystemStore) Open(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, ObjectInfo{}, err
	}
	fh, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, ObjectInfo{}, fmt.Errorf("filesystem store: open %s: %w", key, err)
	}
	info, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, ObjectInfo{}, fmt.Errorf("filesystem store: stat %s: %w", key, err)
	}
	return fh, ObjectInfo{
		Key:         key,
		Size:        info.Size(),
		ContentType: ContentTypeFor(key),
		ModTime:     info.ModTime(),
	}, nil
}

// Delete removes the stored file. Missing files are not an error.
func (s *FilesystemStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filesystem store: delete %s: %w", key, err)
	}
	return nil
}

func (s *FilesystemStore) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("filesystem store: stat %s: %w", key, err)
	}
}

func (s *FilesystemStore) path(key string) string {
	return filepath.Join(s.root, key)
}
