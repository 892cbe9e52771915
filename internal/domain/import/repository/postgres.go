package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const transactionsTable = "imported_transactions"

var transactionColumns = []string{
	"id", "user_id", "import_session_id", "transaction_date", "name", "value",
	"category", "type", "payment_type", "repeat", "fixed", "installments", "source_row",
}

// maxParams is the bind parameter limit of one Postgres statement.
const maxParams = 65535

// MaxBatchSize is the largest batch BulkInsert can send in one statement.
var MaxBatchSize = maxParams / len(transactionColumns)

var (
	ErrNoRecords     = errors.New("no records to insert")
	ErrBatchTooLarge = errors.New("batch exceeds the statement parameter limit")
)

// DBTX is the subset of pgxpool.Pool used by the repository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresTransactionRepository implements TransactionRepository on Postgres.
type PostgresTransactionRepository struct {
	db DBTX
}

// NewPostgresTransactionRepository creates a new Postgres transaction repository
func NewPostgresTransactionRepository(db DBTX) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// BulkInsert writes all records with a single multi-row INSERT.
func (r *PostgresTransactionRepository) BulkInsert(ctx context.Context, records []*TransactionRecord) (int64, error) {
	if len(records) == 0 {
		return 0, ErrNoRecords
	}
	if len(records) > MaxBatchSize {
		return 0, fmt.Errorf("%w: %d records", ErrBatchTooLarge, len(records))
	}

	builder := squirrel.Insert(transactionsTable).
		Columns(transactionColumns...).
		PlaceholderFormat(squirrel.Dollar)
	for _, rec := range records {
		builder = builder.Values(values(rec)...)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build bulk insert: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Insert writes one record.
func (r *PostgresTransactionRepository) Insert(ctx context.Context, record *TransactionRecord) error {
	sql, args, err := squirrel.Insert(transactionsTable).
		Columns(transactionColumns...).
		Values(values(record)...).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func values(rec *TransactionRecord) []any {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return []any{
		rec.ID,
		rec.OwnerID,
		rec.ImportSessionID,
		rec.Date,
		rec.Name,
		rec.Value.StringFixed(2),
		nullable(rec.Category),
		string(rec.Type),
		nullable(rec.PaymentType),
		rec.Repeat,
		rec.Fixed,
		nullable(rec.Installments),
		rec.SourceRow,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
