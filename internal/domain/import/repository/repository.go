// Package repository provides persistence for imported transactions.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType tells whether money came in or went out.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// TransactionRecord is a normalized transaction ready to be stored.
type TransactionRecord struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	OwnerID         uuid.UUID       `db:"user_id" json:"owner_id"`
	ImportSessionID uuid.UUID       `db:"import_session_id" json:"import_session_id"`
	Date            time.Time       `db:"transaction_date" json:"date"`
	Name            string          `db:"name" json:"name"`
	Value           decimal.Decimal `db:"value" json:"value"` // Always non-negative; direction lives in Type
	Category        string          `db:"category" json:"category,omitempty"`
	Type            TransactionType `db:"type" json:"type"`
	PaymentType     string          `db:"payment_type" json:"payment_type,omitempty"`
	Repeat          bool            `db:"repeat" json:"repeat"`
	Fixed           bool            `db:"fixed" json:"fixed"`
	Installments    string          `db:"installments" json:"installments,omitempty"` // "current/total"
	SourceRow       int             `db:"source_row" json:"source_row"`
}

// TransactionRepository stores imported transactions.
type TransactionRepository interface {
	// BulkInsert writes all records in one statement. Either every record is
	// stored or none is.
	BulkInsert(ctx context.Context, records []*TransactionRecord) (int64, error)

	// Insert writes a single record.
	Insert(ctx context.Context, record *TransactionRecord) error
}
