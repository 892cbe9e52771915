// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	importservice "github.com/FACorreiaa/echo-import/internal/domain/import/service"
)

// Reaper is the import housekeeping job.
type Reaper interface {
	Reap(ctx context.Context) (importservice.ReapStats, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	reaper   Reaper
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a new job scheduler. schedule accepts standard
// 5-field specs and descriptors such as "@every 1m".
func NewScheduler(reaper Reaper, schedule string, logger *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		cron:     c,
		reaper:   reaper,
		schedule: schedule,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.reapImports); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("reaper_schedule", s.schedule),
	)
	return nil
}

// Stop stops scheduling; the returned context is done once running jobs end.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow runs the reaper synchronously.
func (s *Scheduler) RunNow() {
	s.reapImports()
}

func (s *Scheduler) reapImports() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := s.reaper.Reap(ctx)
	if err != nil {
		s.logger.Warn("import reaper finished with errors",
			slog.Int("expired_uploads", stats.ExpiredUploads),
			slog.Int("orphan_files", stats.OrphanFiles),
			slog.Int("sessions", stats.Sessions),
			slog.Any("error", err),
		)
		return
	}

	if stats.ExpiredUploads+stats.OrphanFiles+stats.Sessions == 0 {
		return
	}
	s.logger.Info("import reaper completed",
		slog.Int("expired_uploads", stats.ExpiredUploads),
		slog.Int("orphan_files", stats.OrphanFiles),
		slog.Int("sessions", stats.Sessions),
	)
}
