package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/echo-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/echo-import/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-import/internal/domain/import/progress"
	"github.com/FACorreiaa/echo-import/internal/domain/import/repository"
	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
	"github.com/FACorreiaa/echo-import/pkg/money"
)

// importJob is a confirmed upload with its final mapping.
type importJob struct {
	upload     UploadSession
	mapping    sniffer.ColumnMapping
	categories normalizer.CategoryMapping
}

// ingestion is the mutable state of one running import.
type ingestion struct {
	job    *importJob
	counts progress.Counts
	batch  []*repository.TransactionRecord
	totals *money.Totals
}

// run imports a confirmed upload and always leaves the session in a terminal
// state. The staged file and the upload are removed afterwards.
func (s *ImportService) run(ctx context.Context, job *importJob) {
	id := job.upload.ID
	ctx, span := tracer.Start(ctx, "import.run", trace.WithAttributes(
		attribute.String("import.session_id", id.String()),
		attribute.String("import.dialect", string(job.upload.Preview.Dialect)),
	))
	defer span.End()

	start := s.now()
	st := &ingestion{
		job:    job,
		batch:  make([]*repository.TransactionRecord, 0, s.opts.BatchSize),
		totals: money.NewTotals(s.opts.Currency),
	}

	ingestErr := s.ingest(ctx, st)

	result := progress.Result{
		Success:      ingestErr == nil,
		Imported:     st.counts.Successful,
		Failed:       st.counts.Errors,
		Skipped:      st.counts.Skipped,
		IncomeTotal:  st.totals.Income().Display(),
		ExpenseTotal: st.totals.Expense().Display(),
	}
	status := progress.StatusCompleted
	if ingestErr != nil {
		result.Error = ingestErr.Error()
		status = progress.StatusFailed
		span.RecordError(ingestErr)
		span.SetStatus(codes.Error, "import failed")
		s.logger.Error("import failed",
			slog.String("session_id", id.String()),
			slog.Any("error", ingestErr),
		)
	}

	if _, err := s.tracker.Complete(id, result); err != nil {
		s.logger.Warn("failed to complete import session", slog.String("session_id", id.String()), slog.Any("error", err))
	}

	s.metrics.Rows.WithLabelValues(outcomeImported).Add(float64(st.counts.Successful))
	s.metrics.Rows.WithLabelValues(outcomeFailed).Add(float64(st.counts.Errors))
	s.metrics.Rows.WithLabelValues(outcomeSkipped).Add(float64(st.counts.Skipped))
	s.metrics.Duration.WithLabelValues(string(status)).Observe(s.now().Sub(start).Seconds())

	if err := s.storage.Delete(ctx, job.upload.OwnerID, job.upload.FileID); err != nil {
		s.logger.Warn("failed to remove staged file", slog.String("file_id", job.upload.FileID.String()), slog.Any("error", err))
	}
	s.forget(id)
}

// ingest streams the staged file through framing, transformation and
// persistence. Row problems are counted; only a failure to read the file is
// returned.
func (s *ImportService) ingest(ctx context.Context, st *ingestion) error {
	up := st.job.upload

	rc, err := s.storage.GetReader(ctx, up.OwnerID, up.FileID)
	if err != nil {
		return fmt.Errorf("failed to open staged file: %w", err)
	}
	var filters []parser.TextFilter
	if up.profile.Dialect == sniffer.DialectFinanceApp {
		delim := up.profile.Delimiter
		filters = append(filters, func(r io.Reader) io.Reader { return sniffer.NewPreprocessReader(r, delim) })
	}
	reader, err := parser.Open(up.Format, rc, up.profile.Delimiter, filters...)
	if err != nil {
		return fmt.Errorf("failed to open staged file: %w", err)
	}
	defer reader.Close()

	framer := sniffer.NewFramer(up.profile)
	for reader.Next() {
		if rowErr := reader.RowErr(); rowErr != nil {
			if framer.Headers() == nil {
				continue
			}
			st.counts.Processed++
			s.rowFailed(up.ID, &st.counts, reader.Line(), rowErr.Error())
			s.maybeReport(st)
			continue
		}

		row, done := framer.Frame(reader.Record())
		if done {
			break
		}
		if row == nil {
			continue
		}

		st.counts.Processed++
		s.handleRow(ctx, st, normalizer.NewRawRow(reader.Line(), framer.Headers(), row))
		s.maybeReport(st)
	}
	readErr := reader.Err()

	s.flush(ctx, st)
	if readErr != nil {
		s.report(st)
		return readErr
	}

	// The estimate is replaced by the real row count so progress reads 100.
	counts := st.counts
	if _, err := s.tracker.Update(up.ID, progress.Patch{Status: progress.StatusFinalizing, Total: counts.Processed, Counts: &counts}); err != nil {
		s.logger.Warn("failed to update import session", slog.Any("error", err))
	}
	return nil
}

func (s *ImportService) handleRow(ctx context.Context, st *ingestion, raw normalizer.RawRow) {
	job := st.job
	if !normalizer.IsDataRow(raw, job.upload.profile.Dialect, job.mapping) {
		st.counts.Skipped++
		return
	}

	rec, err := s.transformer.ToRecord(raw, job.mapping, job.categories, job.upload.OwnerID)
	if err == nil && !normalizer.IsValid(rec) {
		err = &normalizer.RowError{Row: raw.Line, Field: "record", Message: "not a valid transaction"}
	}
	if err != nil {
		s.rowFailed(job.upload.ID, &st.counts, raw.Line, err.Error())
		return
	}

	rec.ImportSessionID = job.upload.ID
	st.batch = append(st.batch, rec)
	if len(st.batch) >= s.opts.BatchSize {
		s.flush(ctx, st)
	}
}

// flush persists the pending batch before any further row is read.
func (s *ImportService) flush(ctx context.Context, st *ingestion) {
	if len(st.batch) == 0 {
		return
	}

	id := st.job.upload.ID
	res := s.persister.PersistBatch(ctx, st.batch, func(rec *repository.TransactionRecord, err error) {
		if aerr := s.tracker.AddError(id, err.Error(), rec.SourceRow); aerr != nil {
			s.logger.Warn("failed to log row error", slog.Any("error", aerr))
		}
	})

	st.counts.Successful += res.Succeeded
	st.counts.Errors += res.Failed
	for _, rec := range res.Stored {
		if rec.Type == repository.TypeIncome {
			st.totals.AddIncome(rec.Value)
		} else {
			st.totals.AddExpense(rec.Value)
		}
	}
	st.batch = st.batch[:0]
}

func (s *ImportService) rowFailed(id uuid.UUID, counts *progress.Counts, line int, msg string) {
	counts.Errors++
	if err := s.tracker.AddError(id, msg, line); err != nil {
		s.logger.Warn("failed to log row error", slog.Any("error", err))
	}
}

func (s *ImportService) maybeReport(st *ingestion) {
	if st.counts.Processed%max(s.opts.ProgressEvery, 1) == 0 {
		s.report(st)
	}
}

func (s *ImportService) report(st *ingestion) {
	counts := st.counts
	if _, err := s.tracker.Update(st.job.upload.ID, progress.Patch{Counts: &counts}); err != nil {
		s.logger.Warn("failed to update import session", slog.Any("error", err))
	}
}
