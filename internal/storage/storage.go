package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for keys that could escape the store namespace.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("storage: object already exists")
)

// BlobStore persists uploaded files under flat keys. Put never replaces an existing
// object; it fails with ErrExists instead.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions carries optional metadata for Put. Size of zero means unknown.
type PutOptions struct {
	ContentType string
	Size        int64
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Config selects a blob store implementation.
type Config struct {
	Driver string
	Path   string
	S3     S3Config
}

// New builds the blob store named by cfg.Driver.
func New(ctx context.Context, cfg Config) (BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "filesystem":
		return NewFilesystemStore(cfg.Path)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

// NewKey builds the storage key for an upload: unix milliseconds, an underscore and the
// sanitised original file name.
func NewKey(now time.Time, originalName string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), SanitizeName(originalName))
}

// SanitizeName strips directories and replaces characters that are unsafe in keys or URLs.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = filepath.Base(filepath.FromSlash(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '-' || r == '_':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return "file"
	}
	return name
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(key))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
