package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-import/pkg/storage"
)

// ReapStats reports what one reaper pass removed.
type ReapStats struct {
	ExpiredUploads int
	OrphanFiles    int
	Sessions       int
}

// Reap evicts unconfirmed uploads older than the upload TTL, staged files no
// upload refers to, and finished sessions past their grace period.
func (s *ImportService) Reap(ctx context.Context) (ReapStats, error) {
	var stats ReapStats
	now := s.now()
	cutoff := now.Add(-s.opts.UploadTTL)

	s.mu.Lock()
	var expired []*UploadSession
	referenced := make(map[uuid.UUID]struct{}, len(s.uploads))
	for id, up := range s.uploads {
		if !up.Confirmed && up.CreatedAt.Before(cutoff) {
			expired = append(expired, up)
			delete(s.uploads, id)
			continue
		}
		referenced[up.FileID] = struct{}{}
	}
	s.mu.Unlock()

	for _, up := range expired {
		if err := s.storage.Delete(ctx, up.OwnerID, up.FileID); err != nil {
			s.logger.Warn("failed to remove expired upload", slog.String("upload_id", up.ID.String()), slog.Any("error", err))
			continue
		}
		stats.ExpiredUploads++
	}

	var orphans []*storage.FileInfo
	err := s.storage.Walk(ctx, func(info *storage.FileInfo) error {
		if _, ok := referenced[info.ID]; !ok && info.CreatedAt.Before(cutoff) {
			orphans = append(orphans, info)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to list staged files: %w", err)
	}
	for _, info := range orphans {
		if err := s.storage.Delete(ctx, info.OwnerID, info.ID); err != nil {
			s.logger.Warn("failed to remove orphaned file", slog.String("file_id", info.ID.String()), slog.Any("error", err))
			continue
		}
		stats.OrphanFiles++
	}

	stats.Sessions = s.tracker.Sweep(now)
	return stats, nil
}
