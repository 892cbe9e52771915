package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// Object metadata keys.
const (
	metaFilename = "filename"
	metaOwner    = "owner"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket. Objects are
// named <prefix>/<owner>/<file id>; the original filename travels as object
// metadata. Credentials come from Application Default Credentials.
type GCSStorage struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	prefix string
}

// NewGCSStorage opens a client for bucket.
func NewGCSStorage(ctx context.Context, bucket, prefix string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Close releases the client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error) {
	fileID := uuid.New()
	name := s.objectName(ownerID, fileID)

	// Cancelling the writer's context aborts the upload without creating the object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(name).NewWriter(wctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		metaFilename: filename,
		metaOwner:    ownerID.String(),
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return nil, fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}

	return s.fileInfo(w.Attrs())
}

func (s *GCSStorage) GetReader(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, error) {
	rc, err := s.bucket.Object(s.objectName(ownerID, fileID)).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", fileID, err)
	}
	return rc, nil
}

func (s *GCSStorage) GetInfo(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (*FileInfo, error) {
	attrs, err := s.bucket.Object(s.objectName(ownerID, fileID)).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading attrs of %s: %w", fileID, err)
	}
	return s.fileInfo(attrs)
}

func (s *GCSStorage) Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error {
	err := s.bucket.Object(s.objectName(ownerID, fileID)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("deleting object %s: %w", fileID, err)
	}
	return nil
}

func (s *GCSStorage) Walk(ctx context.Context, fn WalkFunc) error {
	query := &gcs.Query{}
	if s.prefix != "" {
		query.Prefix = s.prefix + "/"
	}

	it := s.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing objects: %w", err)
		}
		info, err := s.fileInfo(attrs)
		if err != nil {
			continue
		}
		if err := fn(info); err != nil {
			return err
		}
	}
}

func (s *GCSStorage) objectName(ownerID, fileID uuid.UUID) string {
	return path.Join(s.prefix, ownerID.String(), fileID.String())
}

func (s *GCSStorage) fileInfo(attrs *gcs.ObjectAttrs) (*FileInfo, error) {
	if attrs == nil {
		return nil, errors.New("missing object attributes")
	}
	fileID, err := uuid.Parse(path.Base(attrs.Name))
	if err != nil {
		return nil, fmt.Errorf("unexpected object name %q", attrs.Name)
	}
	ownerID, err := uuid.Parse(path.Base(path.Dir(attrs.Name)))
	if err != nil {
		return nil, fmt.Errorf("unexpected object name %q", attrs.Name)
	}

	return &FileInfo{
		ID:          fileID,
		OwnerID:     ownerID,
		Name:        attrs.Metadata[metaFilename],
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Path:        attrs.Name,
		CreatedAt:   attrs.Created,
	}, nil
}
