package sniffer

import (
	"strings"
)

// Dialect identifies the export family of an uploaded file.
type Dialect string

const (
	DialectBank       Dialect = "bank"
	DialectFinanceApp Dialect = "finance_app"
	DialectGeneric    Dialect = "generic"
)

const (
	markerPaymentMethod = "forma de pagamento"
	markerInstallments  = "parcela"
	markerTotalExpenses = "total de despesas"
	markerTotalIncome   = "total de receitas"
	markerBank          = "nubank"
)

var (
	financeAppMarkers = NewKeywordSet(markerPaymentMethod, markerInstallments, markerTotalExpenses, markerTotalIncome)

	// Columns of the bank's card/account export.
	bankColumns = map[string]bool{"date": true, "title": true, "amount": true, "category": true}
)

// Detect classifies a file from its name and a bounded text prefix. It never
// reads beyond the sample it is handed.
func Detect(filename, sample string) Dialect {
	if strings.Contains(Fold(filename), markerBank) || strings.Contains(Fold(sample), markerBank) {
		return DialectBank
	}
	if isBankHeader(firstLine(sample)) {
		return DialectBank
	}

	// The header phrases only count together on one line; the totals count
	// anywhere.
	for _, line := range strings.Split(sample, "\n") {
		found := map[string]bool{}
		for _, k := range financeAppMarkers.Find(line) {
			found[k] = true
		}
		if (found[markerPaymentMethod] && found[markerInstallments]) || found[markerTotalExpenses] || found[markerTotalIncome] {
			return DialectFinanceApp
		}
	}

	return DialectGeneric
}

func isBankHeader(line string) bool {
	if line == "" {
		return false
	}
	delim, _ := DetectDelimiter(line)
	cells := splitLine(line, delim)

	seen := map[string]bool{}
	for _, c := range cells {
		c = Fold(strings.Trim(c, `"`))
		if !bankColumns[c] {
			return false
		}
		seen[c] = true
	}
	return seen["date"] && seen["title"] && seen["amount"]
}

// DetectDelimiter counts candidate separators in a header line and returns the
// most frequent one. Ties resolve to comma.
func DetectDelimiter(line string) (rune, int) {
	delimiters := []rune{',', ';', '\t'}
	best := ','
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			best = d
		}
	}
	return best, bestCount
}

func firstLine(sample string) string {
	for i, line := range strings.Split(sample, "\n") {
		line = cleanLine(line, i == 0)
		if line != "" {
			return line
		}
	}
	return ""
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}
