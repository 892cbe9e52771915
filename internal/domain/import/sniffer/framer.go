package sniffer

import "strings"

// Framer splits a stream of raw records into one header and the data rows
// that follow it, according to a detected profile. The same framing is used
// for the preview and for the full import so both agree on what a row is.
type Framer struct {
	headerIndex int
	filter      *SectionFilter
	seen        int
	headers     []string
	done        bool
}

func NewFramer(p *Profile) *Framer {
	f := &Framer{headerIndex: p.HeaderIndex}
	if p.Dialect == DialectFinanceApp {
		f.filter = NewSectionFilter()
	}
	return f
}

// Frame consumes one record. It returns the data row to process, or nil when
// the record was a header, a prefix line or outside the table. done reports
// that nothing further in the stream belongs to the table.
func (f *Framer) Frame(record []string) (row []string, done bool) {
	if f.done {
		return nil, true
	}

	if f.filter != nil {
		row, keep, done := f.filter.Apply(record)
		if done {
			f.done = true
			return nil, true
		}
		if !keep {
			return nil, false
		}
		if f.headers == nil {
			f.headers = trimAll(row)
			return nil, false
		}
		return row, false
	}

	idx := f.seen
	f.seen++
	switch {
	case idx < f.headerIndex:
		return nil, false
	case idx == f.headerIndex:
		f.headers = trimAll(record)
		return nil, false
	}
	return record, false
}

// Headers returns the header row once it has been seen.
func (f *Framer) Headers() []string {
	return f.headers
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
