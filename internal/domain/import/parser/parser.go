// Package parser streams rows out of uploaded files. Every format is exposed
// through the same pull-style Reader so the import pipeline controls the pace:
// a row is only read when the previous one has been handled.
package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Format is the container format of an upload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

var extensions = map[string]Format{
	".csv":  FormatCSV,
	".txt":  FormatCSV,
	".tsv":  FormatCSV,
	".xlsx": FormatXLSX,
	".xls":  FormatXLS,
}

// FormatFromFilename picks the format from the file extension.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// IsSpreadsheet reports whether rows come from a workbook rather than text.
func (f Format) IsSpreadsheet() bool {
	return f == FormatXLSX || f == FormatXLS
}

// Reader is a pull iterator over the rows of a file.
//
//	for r.Next() {
//		rec := r.Record()
//	}
//	if err := r.Err(); err != nil { ... }
//
// Empty lines and spreadsheet rows without any value are not returned.
// Record is only valid until the next call to Next.
type Reader interface {
	Next() bool
	Record() []string
	// Line is the 1-based physical line or sheet row of the current record.
	Line() int
	// RowErr is set when the current row was malformed; Record is nil then.
	RowErr() error
	// Err is the error that stopped iteration, if any.
	Err() error
	Close() error
}

// TextFilter rewrites decoded text before it is split into records.
type TextFilter func(io.Reader) io.Reader

// Open returns a Reader for rc. delimiter and filters are ignored for
// spreadsheets. The Reader owns rc and closes it.
func Open(format Format, rc io.ReadCloser, delimiter rune, filters ...TextFilter) (Reader, error) {
	switch format {
	case FormatCSV:
		return NewCSVReader(rc, delimiter, filters...), nil
	case FormatXLSX:
		return NewXLSXReader(rc)
	case FormatXLS:
		return NewXLSReader(rc)
	}
	rc.Close()
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

const sniffSize = 64 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText strips a UTF-8 byte order mark and transcodes Latin-1 input to
// UTF-8. The decision is taken on the first 64 KiB only.
func DecodeText(r io.Reader) io.Reader {
	br := bufio.NewReaderSize(r, sniffSize)
	head, _ := br.Peek(sniffSize)

	if bytes.HasPrefix(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
		return br
	}
	if validUTF8Prefix(head, len(head) == sniffSize) {
		return br
	}
	return transform.NewReader(br, charmap.ISO8859_1.NewDecoder())
}

// validUTF8Prefix tolerates a multi-byte rune cut off by the peek window.
func validUTF8Prefix(b []byte, truncated bool) bool {
	if utf8.Valid(b) {
		return true
	}
	if !truncated {
		return false
	}
	for k := 1; k < utf8.UTFMax && k <= len(b); k++ {
		tail := b[len(b)-k:]
		if utf8.RuneStart(tail[0]) && !utf8.FullRune(tail) {
			return utf8.Valid(b[:len(b)-k])
		}
	}
	return false
}

// CSVReader reads delimited text.
type CSVReader struct {
	rc     io.Closer
	csv    *csv.Reader
	record []string
	line   int
	rowErr error
	err    error
}

// NewCSVReader decodes rc (see DecodeText), runs it through filters and
// splits it on delimiter.
func NewCSVReader(rc io.ReadCloser, delimiter rune, filters ...TextFilter) *CSVReader {
	text := DecodeText(rc)
	for _, f := range filters {
		text = f(text)
	}
	r := csv.NewReader(text)
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1 // Variable field count
	r.ReuseRecord = true

	return &CSVReader{rc: rc, csv: r}
}

func (r *CSVReader) Next() bool {
	if r.err != nil {
		return false
	}
	r.record, r.rowErr = nil, nil

	for {
		rec, err := r.csv.Read()
		if err == io.EOF {
			return false
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.line = parseErr.StartLine
			r.rowErr = parseErr
			return true
		}
		if err != nil {
			r.err = fmt.Errorf("failed to read csv: %w", err)
			return false
		}
		if isBlank(rec) {
			continue
		}

		r.record = rec
		r.line, _ = r.csv.FieldPos(0)
		return true
	}
}

func (r *CSVReader) Record() []string { return r.record }
func (r *CSVReader) Line() int        { return r.line }
func (r *CSVReader) RowErr() error    { return r.rowErr }
func (r *CSVReader) Err() error       { return r.err }
func (r *CSVReader) Close() error     { return r.rc.Close() }

// ReadRows drains up to max records from r, for previews.
func ReadRows(r Reader, max int) ([][]string, error) {
	var rows [][]string
	for len(rows) < max && r.Next() {
		if r.RowErr() != nil {
			continue
		}
		rows = append(rows, append([]string(nil), r.Record()...))
	}
	return rows, r.Err()
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
