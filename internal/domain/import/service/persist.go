package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/echo-import/internal/domain/import/repository"
)

// DefaultFallbackConcurrency bounds the per-record inserts of one batch.
const DefaultFallbackConcurrency = 8

// BulkWriter stores a whole batch in one call.
type BulkWriter interface {
	BulkInsert(ctx context.Context, records []*repository.TransactionRecord) (int64, error)
}

// RecordWriter stores one record.
type RecordWriter interface {
	Insert(ctx context.Context, record *repository.TransactionRecord) error
}

// FailureFunc is told about every record that could not be stored. It may be
// called concurrently.
type FailureFunc func(record *repository.TransactionRecord, err error)

// BatchResult counts the outcome of one batch. Succeeded + Failed always
// equals the batch length.
type BatchResult struct {
	Succeeded int
	Failed    int
	Stored    []*repository.TransactionRecord
}

// Persister writes batches with a bulk insert and, when that fails, retries
// every record on its own so one bad record costs only itself.
type Persister struct {
	bulk        BulkWriter
	single      RecordWriter
	concurrency int
	metrics     *Metrics
	logger      *slog.Logger
}

func NewPersister(bulk BulkWriter, single RecordWriter, logger *slog.Logger) *Persister {
	return &Persister{
		bulk:        bulk,
		single:      single,
		concurrency: DefaultFallbackConcurrency,
		logger:      logger,
	}
}

// WithConcurrency sets how many single inserts may run at once.
func (p *Persister) WithConcurrency(n int) *Persister {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

// WithMetrics counts fallbacks.
func (p *Persister) WithMetrics(m *Metrics) *Persister {
	p.metrics = m
	return p
}

// PersistBatch stores batch. Failures are reported through onFailure.
func (p *Persister) PersistBatch(ctx context.Context, batch []*repository.TransactionRecord, onFailure FailureFunc) BatchResult {
	if len(batch) == 0 {
		return BatchResult{}
	}

	ctx, span := tracer.Start(ctx, "import.persist_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))),
	)
	defer span.End()

	_, err := p.bulk.BulkInsert(ctx, batch)
	if err == nil {
		return BatchResult{Succeeded: len(batch), Stored: batch}
	}

	span.RecordError(err)
	span.AddEvent("bulk insert failed, inserting records one by one")
	p.logger.Warn("bulk insert failed, falling back to single inserts",
		slog.Int("batch_size", len(batch)),
		slog.Any("error", err),
	)
	if p.metrics != nil {
		p.metrics.BatchFallbacks.Inc()
	}

	stored := make([]bool, len(batch))
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, rec := range batch {
		g.Go(func() error {
			if err := p.single.Insert(ctx, rec); err != nil {
				failed.Add(1)
				if onFailure != nil {
					onFailure(rec, err)
				}
				return nil
			}
			stored[i] = true
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Failed: int(failed.Load())}
	for i, ok := range stored {
		if ok {
			res.Stored = append(res.Stored, batch[i])
		}
	}
	res.Succeeded = len(res.Stored)

	if res.Failed > 0 {
		span.SetStatus(codes.Error, "records failed")
	}
	span.SetAttributes(
		attribute.Int("batch.succeeded", res.Succeeded),
		attribute.Int("batch.failed", res.Failed),
	)
	return res
}
