// Package sniffer works out the layout of an uploaded export from a bounded
// prefix: which dialect produced it, its delimiter, where the header sits and
// which columns carry which transaction fields.
package sniffer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// MaxSampleRows caps the data rows kept for a preview.
const MaxSampleRows = 5

// Common statement header keywords (multi-language)
var headerKeywords = NewKeywordSet(
	// Portuguese
	"data", "descricao", "debito", "credito", "valor", "saldo", "categoria", "historico",
	// English
	"date", "description", "amount", "debit", "credit", "balance", "category", "merchant", "title",
	// Spanish
	"fecha", "importe", "cargo", "abono",
)

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// Profile is the detected layout of a file.
type Profile struct {
	Dialect     Dialect            `json:"dialect"`
	Delimiter   rune               `json:"-"`
	HeaderIndex int                `json:"header_index"`
	Headers     []string           `json:"headers"`
	Fingerprint string             `json:"fingerprint"`
	SampleRows  [][]string         `json:"sample_rows"`
	Mapping     ColumnMapping      `json:"mapping"`
	Suggestions map[Field][]string `json:"suggestions,omitempty"`
}

// DelimiterName renders the delimiter for clients.
func (p *Profile) DelimiterName() string {
	switch p.Delimiter {
	case 0:
		return ""
	case '\t':
		return "tab"
	default:
		return string(p.Delimiter)
	}
}

// ProfileLines inspects the first lines of a delimited text file.
func ProfileLines(filename string, lines []string) (*Profile, error) {
	// Lines without a value are dropped, as the row readers skip them too.
	cleaned := make([]string, 0, len(lines))
	for i, l := range lines {
		if l = cleanLine(l, i == 0); strings.Trim(l, ",;\t\" ") != "" {
			cleaned = append(cleaned, l)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrEmptyFile
	}

	dialect := Detect(filename, strings.Join(cleaned, "\n"))

	var (
		delim     rune
		headerIdx int
		err       error
	)
	switch dialect {
	case DialectFinanceApp:
		headerIdx = -1
		for i, l := range cleaned {
			if strings.Contains(Fold(l), markerPaymentMethod) {
				headerIdx = i
				delim, _ = DetectDelimiter(l)
				break
			}
		}
		if headerIdx < 0 {
			// Trailing totals without the expense header: read it as a plain table.
			dialect = DialectGeneric
			delim, headerIdx, err = findHeaderRow(cleaned)
		}
	case DialectBank:
		headerIdx = firstNonEmpty(cleaned)
		delim, _ = DetectDelimiter(cleaned[headerIdx])
	default:
		delim, headerIdx, err = findHeaderRow(cleaned)
	}
	if err != nil {
		return nil, err
	}

	var records [][]string
	if dialect == DialectFinanceApp {
		records = preprocessRecords(cleaned, delim)
	} else {
		records = make([][]string, len(cleaned))
		for i, l := range cleaned {
			records[i] = splitLine(l, delim)
		}
	}

	return buildProfile(dialect, delim, headerIdx, records)
}

// preprocessRecords reads lines through PreprocessReader and the CSV parser,
// the way the import reads the whole file.
func preprocessRecords(lines []string, delim rune) [][]string {
	r := csv.NewReader(NewPreprocessReader(strings.NewReader(strings.Join(lines, "\n")), delim))
	r.Comma = delim
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := r.Read()
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return records
		}
		if !isBlank(rec) {
			records = append(records, rec)
		}
	}
}

// ProfileRows inspects the first rows of a spreadsheet.
func ProfileRows(filename string, rows [][]string) (*Profile, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	text := make([]string, len(rows))
	for i, r := range rows {
		text[i] = strings.Join(r, ",")
	}
	dialect := Detect(filename, strings.Join(text, "\n"))

	if dialect == DialectFinanceApp && !hasExpenseHeader(rows) {
		dialect = DialectGeneric
	}

	headerIdx := 0
	switch dialect {
	case DialectBank:
		headerIdx = firstNonEmpty(text)
	case DialectGeneric:
		headerIdx = findHeaderRecord(rows)
	}

	return buildProfile(dialect, 0, headerIdx, rows)
}

func buildProfile(d Dialect, delim rune, headerIdx int, records [][]string) (*Profile, error) {
	p := &Profile{
		Dialect:     d,
		Delimiter:   delim,
		HeaderIndex: headerIdx,
	}

	framer := NewFramer(p)
	for _, rec := range records {
		row, done := framer.Frame(rec)
		if done {
			break
		}
		if row == nil || isBlank(row) {
			continue
		}
		if len(p.SampleRows) < MaxSampleRows {
			p.SampleRows = append(p.SampleRows, row)
		}
	}

	p.Headers = framer.Headers()
	if len(p.Headers) == 0 {
		return nil, ErrNoHeadersFound
	}

	p.Fingerprint = generateFingerprint(p.Headers)
	p.Mapping = GenerateMapping(p.Headers, d)
	p.Suggestions = Suggest(p.Headers, p.Mapping)
	return p, nil
}

// findHeaderRow locates the header line and its delimiter. Lines carrying
// header keywords win over plain lines; among them more columns win.
func findHeaderRow(lines []string) (rune, int, error) {
	fallbackIndex, fallbackCount := -1, 0
	fallbackDelimiter := rune(',')

	keywordIndex, keywordScore, keywordCount := -1, 0, 0
	keywordDelimiter := rune(',')

	for i, line := range lines {
		if i > 20 {
			break
		}
		if line == "" {
			continue
		}

		delimiter, count := DetectDelimiter(line)
		if count < 1 {
			continue
		}

		matches := len(headerKeywords.Find(line))
		if matches > 0 {
			score := count*10 + matches
			if keywordIndex == -1 || score > keywordScore {
				keywordIndex, keywordScore, keywordCount = i, score, count
				keywordDelimiter = delimiter
			}
		} else if count > fallbackCount {
			fallbackIndex, fallbackCount = i, count
			fallbackDelimiter = delimiter
		}
	}

	if keywordIndex >= 0 && keywordCount >= 1 {
		return keywordDelimiter, keywordIndex, nil
	}
	if fallbackIndex >= 0 {
		return fallbackDelimiter, fallbackIndex, nil
	}

	// Single-column file.
	if i := firstNonEmpty(lines); i >= 0 {
		return ',', i, nil
	}
	return 0, 0, ErrNoHeadersFound
}

// findHeaderRecord is findHeaderRow for already split rows.
func findHeaderRecord(rows [][]string) int {
	best, bestScore := 0, -1
	for i, r := range rows {
		if i > 20 {
			break
		}
		cells := 0
		for _, c := range r {
			if strings.TrimSpace(c) != "" {
				cells++
			}
		}
		if cells == 0 {
			continue
		}
		score := cells*10 + len(headerKeywords.Find(strings.Join(r, " ")))*100
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func hasExpenseHeader(rows [][]string) bool {
	for _, r := range rows {
		if isExpenseHeader(r) {
			return true
		}
	}
	return false
}

func firstNonEmpty(lines []string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i
		}
	}
	return 0
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// generateFingerprint hashes the normalized header names so repeated uploads
// of the same export layout can be recognized.
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}
