package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	importhandler "github.com/FACorreiaa/echo-import/internal/domain/import/handler"
	"github.com/FACorreiaa/echo-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/echo-import/internal/domain/import/progress"
	importrepo "github.com/FACorreiaa/echo-import/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/echo-import/internal/domain/import/service"
	"github.com/FACorreiaa/echo-import/pkg/config"
	"github.com/FACorreiaa/echo-import/pkg/cron"
	"github.com/FACorreiaa/echo-import/pkg/db"
	"github.com/FACorreiaa/echo-import/pkg/interceptors"
	"github.com/FACorreiaa/echo-import/pkg/push"
	"github.com/FACorreiaa/echo-import/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo importrepo.TransactionRepository

	// Services
	FileStorage   storage.Storage
	Hub           *push.Hub
	Tracker       *progress.Tracker
	ImportService *importservice.ImportService
	TokenVerifier *interceptors.TokenVerifier
	Scheduler     *cron.Scheduler

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.ImportRepo = importrepo.NewPostgresTransactionRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	d.TokenVerifier = interceptors.NewTokenVerifier(d.Config.Auth.JWTSecret)

	fileStorage, err := storage.New(context.Background(), &storage.Config{
		Type:      storage.StorageType(d.Config.Storage.Type),
		LocalPath: d.Config.Storage.LocalPath,
		GCSBucket: d.Config.Storage.GCSBucket,
		GCSPrefix: d.Config.Storage.GCSPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	categories, err := normalizer.LoadCategoryMapping(d.Config.Import.CategoryMapFile)
	if err != nil {
		return err
	}

	// Progress events fan out to every websocket and SSE stream of the owner.
	d.Hub = push.NewHub(d.Logger)
	d.Tracker = progress.NewTracker(importservice.NewHubNotifier(d.Hub, d.Logger), d.Logger).
		WithGrace(d.Config.Import.SessionGrace)

	ic := d.Config.Import
	d.ImportService = importservice.NewImportService(d.FileStorage, d.ImportRepo, d.Tracker, d.Hub, d.Logger).
		WithOptions(importservice.Options{
			MaxUploadBytes:      ic.MaxUploadBytes,
			LargeFileBytes:      ic.LargeFileBytes,
			LargeFileRows:       ic.LargeFileRows,
			PreviewMaxLines:     ic.PreviewMaxLines,
			BatchSize:           ic.BatchSize,
			ProgressEvery:       ic.ProgressEvery,
			FallbackConcurrency: ic.FallbackConcurrency,
			UploadTTL:           ic.UploadTTL,
			Currency:            ic.Currency,
		}).
		WithCategoryMapping(categories)

	if d.Config.Observability.MetricsEnabled {
		d.ImportService.WithMetrics(importservice.NewMetrics(prometheus.DefaultRegisterer))
	}

	d.Scheduler = cron.NewScheduler(d.ImportService, d.Config.Import.ReaperSchedule, d.Logger)

	d.Logger.Info("services initialized",
		slog.String("storage", d.Config.Storage.Type),
		slog.Int("category_rules", len(categories)),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(
		d.ImportService,
		d.Config.Import.MaxUploadBytes,
		d.Config.Server.AllowedOrigins,
		d.Logger,
	)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if closer, ok := d.FileStorage.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			d.Logger.Warn("failed to close file storage", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
