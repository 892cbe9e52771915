package sniffer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// Rows whose first cell starts with one of these end the expense table of a
// finance-app export.
var sectionMarkers = []string{"receitas", "entradas", "total", "resumo"}

type sectionState int

const (
	seekingHeader sectionState = iota
	inTable
	pastTable
)

// SectionFilter isolates the expense table of a finance-app export. The export
// places an income table to the right of the expenses and summary blocks
// below them, so the filter drops everything before the expense header,
// truncates each row to the header's width and stops at the first section
// marker. It works row by row and keeps no history.
type SectionFilter struct {
	state sectionState
	width int
}

func NewSectionFilter() *SectionFilter {
	return &SectionFilter{}
}

// Apply feeds one record through the filter. keep is false for rows outside
// the expense table; done turns true once the table has ended, after which
// every row is discarded.
func (f *SectionFilter) Apply(record []string) (row []string, keep bool, done bool) {
	switch f.state {
	case seekingHeader:
		if !isExpenseHeader(record) {
			return nil, false, false
		}
		f.width = leadingWidth(record)
		f.state = inTable
		return record[:f.width], true, false

	case inTable:
		if len(record) > 0 && isSectionMarker(record[0]) {
			f.state = pastTable
			return nil, false, true
		}
		if len(record) > f.width {
			record = record[:f.width]
		}
		return record, true, false
	}

	return nil, false, true
}

// Width is the column count of the expense table, zero before the header.
func (f *SectionFilter) Width() int {
	return f.width
}

func isExpenseHeader(record []string) bool {
	return strings.Contains(Fold(strings.Join(record, " ")), markerPaymentMethod)
}

func isSectionMarker(cell string) bool {
	c := Fold(cell)
	if c == "" {
		return false
	}
	for _, m := range sectionMarkers {
		if strings.HasPrefix(c, m) {
			return true
		}
	}
	return false
}

// leadingWidth counts the non-empty cells before the first blank one.
func leadingWidth(record []string) int {
	n := 0
	for _, c := range record {
		if strings.TrimSpace(c) == "" {
			break
		}
		n++
	}
	return n
}

// splitLine splits one line on delim honoring double quotes.
func splitLine(line string, delim rune) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return strings.Split(line, string(delim))
	}
	return fields
}

// PreprocessReader applies the finance-app section rules to raw text before
// it is split into records: lines before the expense header and after the
// first section marker are dropped, and every table line is cut after the
// header's width. The side-by-side income table therefore never reaches the
// CSV parser. Dropped lines before the table are kept as empty lines so line
// numbers stay those of the file.
type PreprocessReader struct {
	src   *bufio.Reader
	delim byte
	state sectionState
	cut   lineCutter
	out   bytes.Buffer
	err   error
}

// NewPreprocessReader wraps r. delim must be a single-byte separator.
func NewPreprocessReader(r io.Reader, delim rune) *PreprocessReader {
	if delim == 0 {
		delim = ','
	}
	return &PreprocessReader{src: bufio.NewReader(r), delim: byte(delim)}
}

func (p *PreprocessReader) Read(b []byte) (int, error) {
	for p.out.Len() == 0 {
		if p.err != nil {
			return 0, p.err
		}
		p.fill()
	}
	return p.out.Read(b)
}

// fill processes one physical line.
func (p *PreprocessReader) fill() {
	if p.state == pastTable {
		p.err = io.EOF
		return
	}

	line, err := p.src.ReadString('\n')
	if err != nil {
		p.err = err
		if line == "" {
			return
		}
	}
	line = strings.TrimRight(line, "\r\n")

	switch p.state {
	case seekingHeader:
		if !strings.Contains(Fold(line), markerPaymentMethod) {
			p.out.WriteByte('\n')
			return
		}
		p.cut = lineCutter{delim: p.delim, width: leadingWidth(splitLine(line, rune(p.delim)))}
		p.state = inTable

	case inTable:
		if !p.cut.open() && isSectionMarker(firstCell(line, p.delim)) {
			p.state = pastTable
			p.err = io.EOF
			return
		}
	}

	p.out.WriteString(p.cut.cut(line))
	p.out.WriteByte('\n')
}

// lineCutter truncates records to width fields. Quote state is carried across
// lines so a quoted field spanning several lines is kept whole.
type lineCutter struct {
	delim    byte
	width    int
	fields   int
	inQuotes bool
}

// open reports whether the previous line ended inside a quoted field.
func (c *lineCutter) open() bool {
	return c.inQuotes
}

func (c *lineCutter) cut(line string) string {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			c.inQuotes = !c.inQuotes
		case c.delim:
			if c.inQuotes {
				continue
			}
			c.fields++
			if c.fields >= c.width {
				c.fields = 0
				return line[:i]
			}
		}
	}
	if !c.inQuotes {
		c.fields = 0
	}
	return line
}

func firstCell(line string, delim byte) string {
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case delim:
			if !inQuotes {
				return strings.Trim(line[:i], `" `)
			}
		}
	}
	return strings.Trim(line, `" `)
}
