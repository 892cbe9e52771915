package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/FACorreiaa/echo-import/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
)

// sniffLimit bounds the prefix of a text upload kept for the preview.
const sniffLimit = 64 * 1024

// stagingReader measures an upload while it is copied to storage. It fails
// with ErrFileTooLarge as soon as the limit is crossed.
type stagingReader struct {
	r        io.Reader
	limit    int64
	size     int64
	hash     hash.Hash
	newlines int
	head     []byte
	last     byte
}

func newStagingReader(r io.Reader, limit int64) *stagingReader {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return &stagingReader{r: r, limit: limit, hash: h}
}

func (s *stagingReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.size += int64(n)
		if s.limit > 0 && s.size > s.limit {
			return 0, ErrFileTooLarge
		}
		chunk := p[:n]
		s.hash.Write(chunk)
		s.newlines += bytes.Count(chunk, []byte{'\n'})
		if room := sniffLimit - len(s.head); room > 0 {
			s.head = append(s.head, chunk[:min(room, n)]...)
		}
		s.last = chunk[n-1]
	}
	return n, err
}

func (s *stagingReader) checksum() string {
	return hex.EncodeToString(s.hash.Sum(nil))
}

// lines counts physical lines, including a last one without a newline.
func (s *stagingReader) lines() int {
	if s.size > 0 && s.last != '\n' {
		return s.newlines + 1
	}
	return s.newlines
}

// Stage streams an upload to storage and prepares its preview. Nothing is
// kept when the file is rejected.
func (s *ImportService) Stage(ctx context.Context, ownerID uuid.UUID, filename, contentType string, r io.Reader) (*UploadSession, error) {
	format, err := parser.FormatFromFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filename)
	}

	sr := newStagingReader(r, s.opts.MaxUploadBytes)
	info, err := s.storage.Upload(ctx, ownerID, filename, contentType, sr)
	if errors.Is(err, ErrFileTooLarge) {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.opts.MaxUploadBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	profile, rows, err := s.profile(ctx, info.OwnerID, info.ID, format, filename, sr)
	if err != nil {
		if derr := s.storage.Delete(ctx, ownerID, info.ID); derr != nil {
			s.logger.Warn("failed to remove rejected upload", slog.Any("error", derr))
		}
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	estimated := max(rows-profile.HeaderIndex-1, 0)
	up := &UploadSession{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Filename:  filename,
		FileID:    info.ID,
		Format:    format,
		Size:      sr.size,
		Checksum:  sr.checksum(),
		CreatedAt: s.now(),
		profile:   profile,
		Preview: Preview{
			Dialect:       profile.Dialect,
			Delimiter:     profile.DelimiterName(),
			Headers:       profile.Headers,
			SampleRows:    profile.SampleRows,
			EstimatedRows: estimated,
			Mapping:       profile.Mapping,
			Suggestions:   profile.Suggestions,
			IsLarge:       s.isLarge(sr.size, estimated),
			Fingerprint:   profile.Fingerprint,
			Checksum:      sr.checksum(),
			Size:          sr.size,
		},
	}

	s.mu.Lock()
	s.uploads[up.ID] = up
	s.mu.Unlock()

	s.metrics.UploadBytes.Observe(float64(up.Size))
	s.logger.Info("upload staged",
		slog.String("upload_id", up.ID.String()),
		slog.String("user_id", ownerID.String()),
		slog.String("dialect", string(profile.Dialect)),
		slog.Int64("size", up.Size),
		slog.Int("estimated_rows", estimated),
	)

	cp := *up
	return &cp, nil
}

func (s *ImportService) isLarge(size int64, rows int) bool {
	return (s.opts.LargeFileBytes > 0 && size >= s.opts.LargeFileBytes) ||
		(s.opts.LargeFileRows > 0 && rows >= s.opts.LargeFileRows)
}

// profile detects the layout of a staged file and returns it with the number
// of rows the file holds.
func (s *ImportService) profile(ctx context.Context, ownerID, fileID uuid.UUID, format parser.Format, filename string, sr *stagingReader) (*sniffer.Profile, int, error) {
	if !format.IsSpreadsheet() {
		p, err := sniffer.ProfileLines(filename, previewLines(sr.head, sr.size > int64(len(sr.head)), s.opts.PreviewMaxLines))
		return p, sr.lines(), err
	}

	rc, err := s.storage.GetReader(ctx, ownerID, fileID)
	if err != nil {
		return nil, 0, err
	}
	reader, err := parser.Open(format, rc, 0)
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	rows, err := parser.ReadRows(reader, s.opts.PreviewMaxLines)
	if err != nil {
		return nil, 0, err
	}
	total := len(rows)
	for reader.Next() {
		total++
	}
	if err := reader.Err(); err != nil {
		return nil, 0, err
	}

	p, err := sniffer.ProfileRows(filename, rows)
	return p, total, err
}

// previewLines decodes a text prefix and returns its first complete lines.
func previewLines(head []byte, truncated bool, maxLines int) []string {
	text, _ := io.ReadAll(parser.DecodeText(bytes.NewReader(head)))

	lines := strings.Split(string(text), "\n")
	if truncated && len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
