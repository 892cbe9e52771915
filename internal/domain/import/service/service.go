// Package service orchestrates imports: it stages uploads, previews their
// layout, runs confirmed imports in the background and reports progress.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/echo-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/echo-import/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-import/internal/domain/import/progress"
	"github.com/FACorreiaa/echo-import/internal/domain/import/repository"
	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
	"github.com/FACorreiaa/echo-import/pkg/money"
	"github.com/FACorreiaa/echo-import/pkg/push"
	"github.com/FACorreiaa/echo-import/pkg/storage"
)

var (
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrFileTooLarge      = errors.New("file too large")
	ErrNotFound          = errors.New("import not found")
	ErrForbidden         = errors.New("import belongs to another user")
	ErrAlreadyConfirmed  = errors.New("import already confirmed")
	ErrIncompleteMapping = errors.New("column mapping is incomplete")
)

// Options tune the import pipeline.
type Options struct {
	MaxUploadBytes      int64
	LargeFileBytes      int64
	LargeFileRows       int
	PreviewMaxLines     int
	BatchSize           int
	ProgressEvery       int
	FallbackConcurrency int
	UploadTTL           time.Duration
	Currency            string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxUploadBytes:      50 << 20,
		LargeFileBytes:      5 << 20,
		LargeFileRows:       10000,
		PreviewMaxLines:     50,
		BatchSize:           500,
		ProgressEvery:       100,
		FallbackConcurrency: DefaultFallbackConcurrency,
		UploadTTL:           time.Hour,
		Currency:            money.BRL,
	}
}

// Preview is what the owner sees before confirming an import.
type Preview struct {
	Dialect       sniffer.Dialect            `json:"dialect"`
	Delimiter     string                     `json:"delimiter,omitempty"`
	Headers       []string                   `json:"headers"`
	SampleRows    [][]string                 `json:"sampleRows"`
	EstimatedRows int                        `json:"estimatedRows"`
	Mapping       sniffer.ColumnMapping      `json:"mapping"`
	Suggestions   map[sniffer.Field][]string `json:"suggestions,omitempty"`
	IsLarge       bool                       `json:"isLarge"`
	Fingerprint   string                     `json:"fingerprint"`
	Checksum      string                     `json:"checksum"`
	Size          int64                      `json:"size"`
}

// UploadSession is a staged file waiting to be confirmed.
type UploadSession struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Filename  string
	FileID    uuid.UUID
	Format    parser.Format
	Size      int64
	Checksum  string
	Preview   Preview
	CreatedAt time.Time
	Confirmed bool

	profile *sniffer.Profile
}

// ConfirmRequest carries the owner's corrections to the detected mapping.
type ConfirmRequest struct {
	Mapping    sniffer.ColumnMapping      `json:"mapping"`
	Categories normalizer.CategoryMapping `json:"categoryMapping"`
}

// ImportService stages uploads and runs imports.
type ImportService struct {
	storage     storage.Storage
	tracker     *progress.Tracker
	hub         *push.Hub
	persister   *Persister
	transformer *normalizer.Transformer
	categories  normalizer.CategoryMapping
	metrics     *Metrics
	opts        Options
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	uploads map[uuid.UUID]*UploadSession
	running sync.WaitGroup
}

// NewImportService creates a new import service
func NewImportService(store storage.Storage, repo repository.TransactionRepository, tracker *progress.Tracker, hub *push.Hub, logger *slog.Logger) *ImportService {
	metrics := NewMetrics(prometheus.NewRegistry())
	return &ImportService{
		storage:     store,
		tracker:     tracker,
		hub:         hub,
		persister:   NewPersister(repo, repo, logger).WithMetrics(metrics),
		transformer: normalizer.NewTransformer(),
		categories:  normalizer.CategoryMapping{},
		metrics:     metrics,
		opts:        DefaultOptions(),
		logger:      logger,
		now:         time.Now,
		uploads:     make(map[uuid.UUID]*UploadSession),
	}
}

// WithOptions replaces the pipeline settings.
func (s *ImportService) WithOptions(o Options) *ImportService {
	o.BatchSize = min(o.BatchSize, repository.MaxBatchSize)
	s.opts = o
	s.persister.WithConcurrency(o.FallbackConcurrency)
	return s
}

// WithCategoryMapping sets the default category translations that requests
// can override.
func (s *ImportService) WithCategoryMapping(cm normalizer.CategoryMapping) *ImportService {
	s.categories = cm
	return s
}

// WithMetrics reports to m instead of an unregistered set of collectors.
func (s *ImportService) WithMetrics(m *Metrics) *ImportService {
	s.metrics = m
	s.persister.WithMetrics(m)
	return s
}

// WithClock replaces the time source.
func (s *ImportService) WithClock(now func() time.Time) *ImportService {
	s.now = now
	return s
}

// GetPreview returns the staged upload of ownerID.
func (s *ImportService) GetPreview(ownerID, id uuid.UUID) (*UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	up, err := s.upload(ownerID, id)
	if err != nil {
		return nil, err
	}
	cp := *up
	return &cp, nil
}

// Confirm starts importing a staged upload. The import runs in the
// background; its session id is the upload id.
func (s *ImportService) Confirm(ctx context.Context, ownerID, id uuid.UUID, req ConfirmRequest) (uuid.UUID, error) {
	s.mu.Lock()
	up, err := s.upload(ownerID, id)
	if err != nil {
		s.mu.Unlock()
		return uuid.Nil, err
	}
	if up.Confirmed {
		s.mu.Unlock()
		return uuid.Nil, ErrAlreadyConfirmed
	}

	mapping := up.profile.Mapping.Merge(req.Mapping)
	if missing := requiredMissing(mapping); len(missing) > 0 {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: missing %v", ErrIncompleteMapping, missing)
	}
	up.Confirmed = true
	job := &importJob{
		upload:     *up,
		mapping:    mapping,
		categories: s.categories.Merge(req.Categories),
	}
	s.mu.Unlock()

	if _, err := s.tracker.Start(id, ownerID, up.Filename, up.Preview.EstimatedRows); err != nil {
		return uuid.Nil, fmt.Errorf("failed to start import session: %w", err)
	}

	s.running.Add(1)
	s.metrics.ActiveImports.Inc()
	go func() {
		defer s.running.Done()
		defer s.metrics.ActiveImports.Dec()
		s.run(context.WithoutCancel(ctx), job)
	}()

	s.logger.Info("import confirmed",
		slog.String("session_id", id.String()),
		slog.String("user_id", ownerID.String()),
		slog.String("dialect", string(up.Preview.Dialect)),
	)
	return id, nil
}

// Wait blocks until every running import has finished.
func (s *ImportService) Wait() {
	s.running.Wait()
}

// GetStatus returns the progress of an import of ownerID.
func (s *ImportService) GetStatus(ownerID, id uuid.UUID) (progress.Snapshot, error) {
	snap, err := s.tracker.GetStatus(id)
	if errors.Is(err, progress.ErrSessionNotFound) {
		return progress.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return progress.Snapshot{}, err
	}
	if snap.OwnerID != ownerID {
		return progress.Snapshot{}, ErrForbidden
	}
	return snap, nil
}

// Authorize reports whether ownerID may follow sessionID. A session that is
// not known at all is allowed: it may not have started yet, or be long gone.
func (s *ImportService) Authorize(ownerID, sessionID uuid.UUID) error {
	_, err := s.GetStatus(ownerID, sessionID)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, err := s.GetPreview(ownerID, sessionID); errors.Is(err, ErrForbidden) {
		return err
	}
	return nil
}

// Subscribe registers conn for ownerID's import events. When sessionID names
// a known session its current state is sent first, even if it has already
// finished. The state is read under the hub lock, so a transition that lands
// while subscribing is either in the replay or delivered live.
func (s *ImportService) Subscribe(conn push.Conn, ownerID, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return s.hub.Subscribe(ownerID, conn)
	}
	if err := s.Authorize(ownerID, sessionID); err != nil {
		return err
	}

	return s.hub.SubscribeFunc(ownerID, conn, func() ([][]byte, error) {
		snap, err := s.GetStatus(ownerID, sessionID)
		if err != nil {
			return nil, nil
		}
		msg, err := json.Marshal(progress.EventFor(snap))
		if err != nil {
			return nil, fmt.Errorf("failed to encode session: %w", err)
		}
		return [][]byte{msg}, nil
	})
}

// Unsubscribe removes conn from ownerID's connections.
func (s *ImportService) Unsubscribe(conn push.Conn, ownerID uuid.UUID) {
	s.hub.Unsubscribe(ownerID, conn)
}

type errorReportRow struct {
	Row     int    `csv:"row"`
	Message string `csv:"message"`
	At      string `csv:"logged_at"`
}

// WriteErrorReport writes the logged row errors of an import as CSV.
func (s *ImportService) WriteErrorReport(ownerID, id uuid.UUID, w io.Writer) error {
	snap, err := s.GetStatus(ownerID, id)
	if err != nil {
		return err
	}

	rows := make([]*errorReportRow, 0, len(snap.ErrorLog))
	for _, e := range snap.ErrorLog {
		rows = append(rows, &errorReportRow{Row: e.Row, Message: e.Message, At: e.At.UTC().Format(time.RFC3339)})
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write error report: %w", err)
	}
	return nil
}

// must hold s.mu
func (s *ImportService) upload(ownerID, id uuid.UUID) (*UploadSession, error) {
	up, ok := s.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	if up.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return up, nil
}

func (s *ImportService) forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.uploads, id)
	s.mu.Unlock()
}

func requiredMissing(m sniffer.ColumnMapping) []sniffer.Field {
	var missing []sniffer.Field
	for _, f := range []sniffer.Field{sniffer.FieldDate, sniffer.FieldDescription, sniffer.FieldAmount} {
		if m.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
