package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(owner, session uuid.UUID, name string, row int) *TransactionRecord {
	return &TransactionRecord{
		OwnerID:         owner,
		ImportSessionID: session,
		Date:            time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Name:            name,
		Value:           decimal.RequireFromString("150"),
		Category:        "Alimentação",
		Type:            TypeExpense,
		SourceRow:       row,
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresTransactionRepository_BulkInsert(t *testing.T) {
	owner, session := uuid.New(), uuid.New()

	t.Run("inserts all records in one statement", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO imported_transactions \(id,user_id,import_session_id,.*,source_row\) VALUES \(\$1,.*,\$13\),\(\$14,.*,\$26\)$`).
			WithArgs(anyArgs(13 * 2)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 2))

		repo := NewPostgresTransactionRepository(mock)
		records := []*TransactionRecord{
			newRecord(owner, session, "Mercado", 2),
			newRecord(owner, session, "Farmácia", 3),
		}

		n, err := repo.BulkInsert(context.Background(), records)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NotEqual(t, uuid.Nil, records[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates database errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO imported_transactions`).
			WithArgs(anyArgs(13)...).
			WillReturnError(errors.New("value too long"))

		repo := NewPostgresTransactionRepository(mock)
		_, err = repo.BulkInsert(context.Background(), []*TransactionRecord{newRecord(owner, session, "Mercado", 2)})
		assert.ErrorContains(t, err, "value too long")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects batches over the parameter limit", func(t *testing.T) {
		assert.Equal(t, 5041, MaxBatchSize)
		records := make([]*TransactionRecord, MaxBatchSize+1)
		_, err := NewPostgresTransactionRepository(nil).BulkInsert(context.Background(), records)
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("rejects empty batch", func(t *testing.T) {
		repo := NewPostgresTransactionRepository(nil)
		_, err := repo.BulkInsert(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNoRecords)
	})
}

func TestPostgresTransactionRepository_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	owner, session := uuid.New(), uuid.New()
	rec := newRecord(owner, session, "Mercado", 7)

	mock.ExpectExec(`INSERT INTO imported_transactions`).
		WithArgs(
			pgxmock.AnyArg(), owner, session, rec.Date, "Mercado", "150.00",
			pgxmock.AnyArg(), "expense", pgxmock.AnyArg(), false, false, pgxmock.AnyArg(), 7,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresTransactionRepository(mock)
	require.NoError(t, repo.Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}
