// Package normalizer turns raw export rows into transaction records: it reads
// dates, amounts and flags in the formats the exports use, infers whether a
// row is income or expense and translates category labels.
package normalizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-import/internal/domain/import/repository"
	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
)

// Description phrases that mean money came in.
var incomePhrases = []string{
	"recebido", "recebida", "recebimento", "transferencia recebida",
	"salario", "deposito", "reembolso", "estorno", "rendimento", "cashback",
	"received", "refund", "salary", "deposit", "income",
}

// Leading cells that mark summary rows rather than transactions.
var summaryMarkers = []string{"total", "subtotal", "saldo"}

var ErrEmptyDescription = errors.New("description is empty")

// RawRow is one data row keyed by header.
type RawRow struct {
	Line   int
	Cells  []string
	values map[string]string
}

// NewRawRow pairs cells with headers. Missing trailing cells read as empty;
// with duplicate headers the first column wins.
func NewRawRow(line int, headers, cells []string) RawRow {
	values := make(map[string]string, len(headers))
	for i, h := range headers {
		if _, dup := values[h]; dup || h == "" {
			continue
		}
		if i < len(cells) {
			values[h] = strings.TrimSpace(cells[i])
		} else {
			values[h] = ""
		}
	}
	return RawRow{Line: line, Cells: cells, values: values}
}

// Get returns the trimmed value of column, or "" when the column is unknown.
func (r RawRow) Get(column string) string {
	if column == "" {
		return ""
	}
	return r.values[column]
}

// RowError describes why a row could not become a transaction.
type RowError struct {
	Row     int
	Field   string
	Message string
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func rowError(row int, field sniffer.Field, err error) *RowError {
	return &RowError{Row: row, Field: string(field), Message: err.Error(), Err: err}
}

// Transformer converts raw rows into transaction records. It is safe for
// concurrent use.
type Transformer struct {
	income *sniffer.KeywordSet
}

func NewTransformer() *Transformer {
	return &Transformer{income: sniffer.NewKeywordSet(incomePhrases...)}
}

// ToRecord builds a transaction from a raw row. Failures are returned as
// *RowError naming the offending field.
func (t *Transformer) ToRecord(raw RawRow, m sniffer.ColumnMapping, cm CategoryMapping, ownerID uuid.UUID) (*repository.TransactionRecord, error) {
	date, err := ParseDate(raw.Get(m.Date))
	if err != nil {
		return nil, rowError(raw.Line, sniffer.FieldDate, err)
	}

	description := raw.Get(m.Description)
	if description == "" {
		return nil, rowError(raw.Line, sniffer.FieldDescription, ErrEmptyDescription)
	}

	amountText := raw.Get(m.Amount)
	value, err := ParseAmount(amountText)
	if err != nil {
		return nil, rowError(raw.Line, sniffer.FieldAmount, err)
	}

	return &repository.TransactionRecord{
		OwnerID:      ownerID,
		Date:         date,
		Name:         description,
		Value:        value,
		Category:     cm.Resolve(raw.Get(m.Category)),
		Type:         t.InferType(amountText, description),
		PaymentType:  raw.Get(m.PaymentType),
		Repeat:       ParseBool(raw.Get(m.Repeat)),
		Fixed:        ParseBool(raw.Get(m.Fixed)),
		Installments: NormalizeInstallments(raw.Get(m.Installments)),
		SourceRow:    raw.Line,
	}, nil
}

// InferType decides the direction of a transaction. A negative amount is an
// expense; otherwise a "money received" description makes it income; the
// default is expense.
func (t *Transformer) InferType(amountText, description string) repository.TransactionType {
	if IsNegativeAmount(amountText) {
		return repository.TypeExpense
	}
	if t.income.Contains(description) {
		return repository.TypeIncome
	}
	return repository.TypeExpense
}

// IsValid reports whether a record can be persisted.
func IsValid(rec *repository.TransactionRecord) bool {
	if rec == nil || rec.Date.IsZero() || strings.TrimSpace(rec.Name) == "" {
		return false
	}
	if rec.Value.IsNegative() {
		return false
	}
	return rec.Type == repository.TypeIncome || rec.Type == repository.TypeExpense
}

// IsDataRow filters out rows that are structure rather than data: blank
// rows, totals and balances, and rows missing what the dialect requires.
// Rows rejected here are skipped, not counted as errors.
func IsDataRow(raw RawRow, d sniffer.Dialect, m sniffer.ColumnMapping) bool {
	first := ""
	for _, c := range raw.Cells {
		if c = strings.TrimSpace(c); c != "" {
			first = c
			break
		}
	}
	if first == "" {
		return false
	}

	folded := sniffer.Fold(first)
	for _, marker := range summaryMarkers {
		if strings.HasPrefix(folded, marker) {
			return false
		}
	}

	date, description := raw.Get(m.Date), raw.Get(m.Description)
	switch d {
	case sniffer.DialectBank:
		return date != "" && description != ""
	case sniffer.DialectFinanceApp:
		return date != "" || description != ""
	default:
		return date != "" || description != "" || raw.Get(m.Amount) != ""
	}
}
