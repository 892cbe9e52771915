// Package money provides currency-safe totals using integer minor units.
// Import results report income and expense sums through it so that summing
// thousands of decimal rows never drifts.
package money

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	BRL = "BRL"
	JPY = "JPY" // no decimal places
)

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a new Money value from minor units and currency code.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currency(currencyCode).Code)}
}

// NewFromDecimal creates Money from a decimal value, rounding half away from
// zero to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	c := currency(currencyCode)
	cents := amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return &Money{m: money.New(cents, c.Code)}
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// Add adds two Money values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string for display (e.g., "R$1.234,56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// ToDecimal converts to decimal.Decimal
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}

func currency(code string) *money.Currency {
	if c := money.GetCurrency(code); c != nil {
		return c
	}
	return money.GetCurrency(USD)
}

// Totals sums incoming and outgoing amounts in one currency. The zero value
// is not usable; create it with NewTotals.
type Totals struct {
	income  *Money
	expense *Money
}

func NewTotals(currencyCode string) *Totals {
	return &Totals{income: Zero(currencyCode), expense: Zero(currencyCode)}
}

// AddIncome adds a non-negative amount to the income side.
func (t *Totals) AddIncome(amount decimal.Decimal) {
	t.income = t.add(t.income, amount)
}

// AddExpense adds a non-negative amount to the expense side.
func (t *Totals) AddExpense(amount decimal.Decimal) {
	t.expense = t.add(t.expense, amount)
}

func (t *Totals) add(sum *Money, amount decimal.Decimal) *Money {
	next, err := sum.Add(NewFromDecimal(amount.Abs(), sum.Currency()))
	if err != nil {
		// Same currency by construction.
		return sum
	}
	return next
}

func (t *Totals) Income() *Money  { return t.income }
func (t *Totals) Expense() *Money { return t.expense }
