package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const metaDir = ".meta"

// LocalStorage implements Storage using the local filesystem. Files live in
// one directory per owner, each with a JSON sidecar under .meta.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error) {
	fileID := uuid.New()

	ownerDir := filepath.Join(s.basePath, ownerID.String())
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create owner directory: %w", err)
	}

	// Sanitize filename and add an id prefix for uniqueness
	storedFilename := fmt.Sprintf("%s_%s", fileID.String()[:8], sanitizeFilename(filepath.Base(filename)))
	filePath := filepath.Join(ownerDir, storedFilename)

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	size, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info := &FileInfo{
		ID:          fileID,
		OwnerID:     ownerID,
		Name:        filename,
		Size:        size,
		ContentType: contentType,
		Path:        storedFilename,
		CreatedAt:   time.Now(),
	}

	if err := s.saveMetadata(info); err != nil {
		os.Remove(filePath)
		return nil, err
	}
	return info, nil
}

func (s *LocalStorage) GetReader(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, error) {
	info, err := s.GetInfo(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.basePath, ownerID.String(), info.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) GetInfo(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (*FileInfo, error) {
	data, err := os.ReadFile(s.metaPath(ownerID, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var info FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &info, nil
}

func (s *LocalStorage) Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error {
	info, err := s.GetInfo(ctx, ownerID, fileID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	filePath := filepath.Join(s.basePath, ownerID.String(), info.Path)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if err := os.Remove(s.metaPath(ownerID, fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

// Walk reads every sidecar under the base path. Directories that are not
// owner ids and unreadable sidecars are skipped.
func (s *LocalStorage) Walk(ctx context.Context, fn WalkFunc) error {
	owners, err := os.ReadDir(s.basePath)
	if err != nil {
		return fmt.Errorf("failed to list storage: %w", err)
	}

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		ownerID, err := uuid.Parse(owner.Name())
		if !owner.IsDir() || err != nil {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(s.basePath, owner.Name(), metaDir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), ".json"))
			if entry.IsDir() || err != nil {
				continue
			}
			info, err := s.GetInfo(ctx, ownerID, id)
			if err != nil {
				continue
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *LocalStorage) metaPath(ownerID, fileID uuid.UUID) string {
	return filepath.Join(s.basePath, ownerID.String(), metaDir, fileID.String()+".json")
}

func (s *LocalStorage) saveMetadata(info *FileInfo) error {
	dir := filepath.Join(s.basePath, info.OwnerID.String(), metaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(info.OwnerID, info.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
