// Package storage provides scratch storage for staged uploads, backed by the
// local filesystem or Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // Backend-specific location
	CreatedAt   time.Time `json:"created_at"`
}

// WalkFunc is called for every stored file. Returning an error stops the walk.
type WalkFunc func(info *FileInfo) error

// Storage defines the interface for file storage operations
type Storage interface {
	// Upload streams r into storage and returns its metadata. A failed upload
	// leaves nothing behind.
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// GetReader returns a reader for a file (for streaming processing)
	GetReader(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, error)

	// GetInfo returns metadata for a file without reading it
	GetInfo(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (*FileInfo, error)

	// Delete removes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error

	// Walk visits every stored file of every owner.
	Walk(ctx context.Context, fn WalkFunc) error
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeGCS   StorageType = "gcs"
)

// Config holds storage configuration
type Config struct {
	Type      StorageType
	LocalPath string
	GCSBucket string
	GCSPrefix string
}

// New creates a new Storage implementation based on configuration
func New(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeGCS:
		return NewGCSStorage(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	case StorageTypeLocal:
		fallthrough
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}
