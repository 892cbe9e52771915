package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
)

var (
	ErrEmptyAmount   = errors.New("amount is empty")
	ErrInvalidAmount = errors.New("amount is not a number")
	ErrEmptyDate     = errors.New("date is empty")
	ErrInvalidDate   = errors.New("unrecognized date")
)

var (
	reDayMonthShort = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{2})$`)
	reDayMonthLong  = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})$`)
	reISO           = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ].*)?$`)
	reInstallments  = regexp.MustCompile(`^(\d+)\s*(?:/|de|of)\s*(\d+)$`)
)

// ParseDate reads the date formats seen in exports, in priority order:
// D/M/YY (years 2000+YY), D/M/YYYY, ISO YYYY-M-D and finally M/D/YYYY.
// A format only wins when it yields a real calendar date.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrEmptyDate
	}

	if m := reDayMonthShort.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(2000+atoi(m[3]), atoi(m[2]), atoi(m[1])); ok {
			return t, nil
		}
	}
	if m := reDayMonthLong.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(atoi(m[3]), atoi(m[2]), atoi(m[1])); ok {
			return t, nil
		}
	}
	if m := reISO.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return t, nil
		}
	}
	if m := reDayMonthLong.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(atoi(m[3]), atoi(m[1]), atoi(m[2])); ok {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func calendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject those.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var amountNoise = strings.NewReplacer(
	"R$", "", "US$", "", "$", "", "€", "", "£", "",
	" ", "", "\u00a0", "", "\"", "", "'", "",
)

// ParseAmount reads a monetary value and returns its absolute value. When
// both '.' and ',' appear, '.' groups thousands and ',' is the decimal mark;
// a lone ',' is the decimal mark.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := cleanAmount(raw)
	if s == "" || s == "-" || s == "+" {
		return decimal.Zero, ErrEmptyAmount
	}

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")
	switch {
	case hasDot && hasComma:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case hasComma:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, strings.TrimSpace(raw))
	}
	return d.Abs(), nil
}

// IsNegativeAmount reports whether the amount text carries a minus sign.
func IsNegativeAmount(raw string) bool {
	return strings.HasPrefix(cleanAmount(raw), "-")
}

func cleanAmount(raw string) string {
	return amountNoise.Replace(strings.TrimSpace(raw))
}

var truthy = map[string]bool{
	"sim": true, "s": true, "yes": true, "y": true, "true": true, "1": true, "x": true,
}

// ParseBool reads the yes/no flags of the exports. Anything outside the
// truthy vocabulary is false.
func ParseBool(raw string) bool {
	return truthy[sniffer.Fold(raw)]
}

// NormalizeInstallments rewrites "2/12", "2 de 12" or "02 of 12" as "2/12".
// Values that do not look like installments yield "".
func NormalizeInstallments(raw string) string {
	m := reInstallments.FindStringSubmatch(sniffer.Fold(raw))
	if m == nil {
		return ""
	}
	current, total := atoi(m[1]), atoi(m[2])
	if current < 1 || total < 1 || current > total {
		return ""
	}
	return fmt.Sprintf("%d/%d", current, total)
}
