package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("object not found")

// Backend is read access to the place dataset files live (local disk, S3, Azure Blob)
type Backend interface {
	// ReadTo streams the object at path into writer
	ReadTo(ctx context.Context, path string, writer io.Writer) error

	// Stat returns the object's size and modification time
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// Close closes any resources held by the backend
	Close() error

	// Type returns the storage type identifier ("local", "s3", "azure")
	Type() string
}

// ObjectInfo provides metadata about a storage object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}
